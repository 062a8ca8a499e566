package sysinfo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugin_ResourceDescriptorShape(t *testing.T) {
	p := New()
	resources := p.Resources()
	require.Len(t, resources, 1)
	assert.Equal(t, resourceURI, resources[0].URI)
	assert.Equal(t, "application/json", resources[0].MimeType)
}

func TestPlugin_ReadResourceReturnsValidJSON(t *testing.T) {
	p := New()
	result, err := p.ReadResource(context.Background(), resourceURI)
	require.NoError(t, err)

	var report hostReport
	require.NoError(t, json.Unmarshal([]byte(result.Content.Text), &report))
	assert.NotEmpty(t, report.Hostname)
}

func TestPlugin_ReadResourceUnknownURI(t *testing.T) {
	p := New()
	_, err := p.ReadResource(context.Background(), "sysinfo://bogus")
	assert.Error(t, err)
}

func TestPlugin_NoTools(t *testing.T) {
	p := New()
	assert.Empty(t, p.Tools())
}
