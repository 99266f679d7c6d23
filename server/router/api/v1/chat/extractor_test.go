package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/loom/store"
)

func TestExtractArtifactsSingleBlock(t *testing.T) {
	text := `Here you go:

<loomArtifact identifier="a1" type="code" language="python" title="T">
print(1)
</loomArtifact>

Anything else?`

	artifacts := ExtractArtifacts(text)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "a1", artifacts[0].Identifier)
	assert.Equal(t, store.ArtifactTypeCode, artifacts[0].Type)
	assert.Equal(t, "python", artifacts[0].Language)
	assert.Equal(t, "T", artifacts[0].Title)
	assert.Equal(t, "print(1)", artifacts[0].Content)
}

func TestExtractArtifactsMultipleInDocumentOrder(t *testing.T) {
	text := `<loomArtifact identifier="first" type="code">a</loomArtifact>
some prose
<loomArtifact identifier="second" type="text">b</loomArtifact>`

	artifacts := ExtractArtifacts(text)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "first", artifacts[0].Identifier)
	assert.Equal(t, "second", artifacts[1].Identifier)
	assert.Equal(t, store.ArtifactTypeText, artifacts[1].Type)
}

func TestExtractArtifactsDefaultTitle(t *testing.T) {
	artifacts := ExtractArtifacts(`<loomArtifact identifier="x" type="code">body</loomArtifact>`)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "Untitled Artifact", artifacts[0].Title)
}

func TestExtractArtifactsSniffingOverridesHint(t *testing.T) {
	svg := `<loomArtifact identifier="pic" type="code"><svg xmlns="http://www.w3.org/2000/svg"></svg></loomArtifact>`
	artifacts := ExtractArtifacts(svg)
	require.Len(t, artifacts, 1)
	assert.Equal(t, store.ArtifactTypeSVG, artifacts[0].Type)

	html := `<loomArtifact identifier="page" type="code"><!DOCTYPE html><html></html></loomArtifact>`
	artifacts = ExtractArtifacts(html)
	require.Len(t, artifacts, 1)
	assert.Equal(t, store.ArtifactTypeHTML, artifacts[0].Type)

	mermaid := `<loomArtifact identifier="d" type="code">graph TD
A --> B</loomArtifact>`
	artifacts = ExtractArtifacts(mermaid)
	require.Len(t, artifacts, 1)
	assert.Equal(t, store.ArtifactTypeMermaid, artifacts[0].Type)
}

func TestExtractArtifactsUnknownHintDefaultsToCode(t *testing.T) {
	artifacts := ExtractArtifacts(`<loomArtifact identifier="x" type="application/wat">body</loomArtifact>`)
	require.Len(t, artifacts, 1)
	assert.Equal(t, store.ArtifactTypeCode, artifacts[0].Type)
}

func TestExtractArtifactsUnterminatedBlockSkipped(t *testing.T) {
	artifacts := ExtractArtifacts(`<loomArtifact identifier="x" type="code">never closed`)
	assert.Empty(t, artifacts)
}

func TestExtractArtifactsMalformedAttributesSkipped(t *testing.T) {
	artifacts := ExtractArtifacts(`<loomArtifact identifier=unquoted type="code">b</loomArtifact>`)
	assert.Empty(t, artifacts)
}

func TestExtractArtifactsNoBlocks(t *testing.T) {
	assert.Empty(t, ExtractArtifacts("just a normal answer with <b>html</b>"))
}

func TestExtractArtifactsSingleQuotedAttributes(t *testing.T) {
	artifacts := ExtractArtifacts(`<loomArtifact identifier='q' type='text' title='Quoted'>x</loomArtifact>`)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "q", artifacts[0].Identifier)
	assert.Equal(t, "Quoted", artifacts[0].Title)
}
