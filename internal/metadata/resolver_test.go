package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wargame-agent/backend/internal/storage/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestResolveFromSidecar(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "report.txt")
	writeFile(t, docPath, "body")
	writeFile(t, docPath+SidecarSuffix, `title: Urban Defense Review
collection: aar
year: 2021
doctrine: MDMP
tags:
  - urban
  - defense
`)

	r := NewResolver()
	res, body := r.Resolve(docPath, "body")

	assert.Equal(t, "body", body)
	assert.Equal(t, "Urban Defense Review", res.Title)
	assert.Equal(t, models.CollectionAAR, res.Collection)
	require.NotNil(t, res.Year)
	assert.Equal(t, 2021, *res.Year)
	assert.Equal(t, "mdmp", res.Doctrine)
	assert.Equal(t, []string{"urban", "defense"}, res.Tags)
	assert.Empty(t, res.Warnings)
}

func TestResolveUnknownCollectionDegrades(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "report.txt")
	writeFile(t, docPath+SidecarSuffix, "collection: memoir\n")

	res, _ := NewResolver().Resolve(docPath, "text")

	assert.Equal(t, models.CollectionOther, res.Collection)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "collection", res.Warnings[0].Field)
}

func TestResolveYearOutOfRangeCleared(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "report.txt")
	writeFile(t, docPath+SidecarSuffix, "year: 1812\n")

	res, _ := NewResolver().Resolve(docPath, "text")

	assert.Nil(t, res.Year)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "year", res.Warnings[0].Field)
}

func TestResolveFrontMatter(t *testing.T) {
	text := `---
title: Scenario Brief
collection: scenario
tags: [opfor, phase2]
---
The opposing force begins in sector four.`

	res, body := NewResolver().Resolve(filepath.Join(t.TempDir(), "brief.md"), text)

	assert.Equal(t, "The opposing force begins in sector four.", body)
	assert.Equal(t, "Scenario Brief", res.Title)
	assert.Equal(t, models.CollectionScenario, res.Collection)
	assert.Equal(t, []string{"opfor", "phase2"}, res.Tags)
}

func TestResolveFilenameHeuristics(t *testing.T) {
	res, _ := NewResolver().Resolve("/corpus/doctrine_urban_ops_2019.txt", "text")

	assert.Equal(t, models.CollectionDoctrine, res.Collection)
	require.NotNil(t, res.Year)
	assert.Equal(t, 2019, *res.Year)
	assert.Equal(t, "doctrine urban ops 2019", res.Title)
	assert.Empty(t, res.Warnings)
}

func TestResolveDefaults(t *testing.T) {
	res, _ := NewResolver().Resolve("/corpus/notes.txt", "text")

	assert.Equal(t, models.CollectionOther, res.Collection)
	assert.Equal(t, "notes", res.Title)
	assert.Nil(t, res.Year)
	assert.Empty(t, res.Doctrine)
	assert.Empty(t, res.Tags)
}

func TestResolveFieldwiseFallback(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "intel_summary_2022.md")
	writeFile(t, docPath+SidecarSuffix, "tags:\n  - sigint\n")

	text := "---\ntitle: Sector Assessment\n---\nBody."
	res, body := NewResolver().Resolve(docPath, text)

	assert.Equal(t, "Body.", body)
	assert.Equal(t, "Sector Assessment", res.Title)
	assert.Equal(t, models.CollectionIntel, res.Collection)
	require.NotNil(t, res.Year)
	assert.Equal(t, 2022, *res.Year)
	assert.Equal(t, []string{"sigint"}, res.Tags)
}

func TestResolveBadSidecarNeverFails(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "aar_2020_rotation.txt")
	writeFile(t, docPath+SidecarSuffix, "title: [unclosed\n  collection:\n")

	res, _ := NewResolver().Resolve(docPath, "text")

	assert.Equal(t, models.CollectionAAR, res.Collection)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, "sidecar", res.Warnings[0].Field)
}
