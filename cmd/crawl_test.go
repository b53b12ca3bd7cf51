package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doccrawler/internal/crawler"
)

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawl:
  depth: 5
  storage_root: /from/file
limits:
  max_files: 40
`), 0o600))

	v := viper.New()
	cfgFile := path
	cmd := newCrawlCmd(v, &cfgFile)
	require.NoError(t, cmd.ParseFlags([]string{"--max-files", "3", "--file-types", "pdf,docx", "--render"}))

	cfg, err := loadConfig(v, cmd, cfgFile)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Crawl.Depth, "unset flag keeps file value")
	assert.Equal(t, "/from/file", cfg.Crawl.StorageRoot)
	assert.Equal(t, 3, cfg.Limits.MaxFiles, "set flag wins")
	assert.True(t, cfg.Headless.Enabled)
	assert.True(t, cfg.Crawl.RenderFallback)
	types, err := cfg.FileTypes()
	require.NoError(t, err)
	assert.Equal(t, []crawler.CanonicalType{crawler.TypePDF, crawler.TypeDOCX}, types)
}

func TestLoadConfigRejectsInvalidFlags(t *testing.T) {
	v := viper.New()
	cfgFile := ""
	cmd := newCrawlCmd(v, &cfgFile)
	require.NoError(t, cmd.ParseFlags([]string{"--file-types", "exe"}))

	_, err := loadConfig(v, cmd, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exe")
}

func TestCrawlCommandRequiresSeed(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"crawl"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestCrawlCommandRejectsInvalidSeed(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs([]string{"crawl", "ftp://example.com/", "--storage-root", "mem://cli"})
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
	assert.Empty(t, out.String())
}

func TestPrintItems(t *testing.T) {
	var out bytes.Buffer
	printItems(&out, []crawler.SavedItem{
		{URL: "https://example.com/", Path: "/data/example.com/abc.html", ContentType: crawler.TypeHTML, Status: crawler.StatusSuccess},
		{URL: "https://example.com/big.pdf", ContentType: crawler.TypePDF, Status: crawler.StatusSkipped},
		{URL: "https://example.com/x.bin", Status: crawler.StatusFailed},
	})

	assert.Equal(t, "success html https://example.com/ -> /data/example.com/abc.html\n"+
		"skipped pdf https://example.com/big.pdf -> -\n"+
		"failed - https://example.com/x.bin -> -\n", out.String())
}
