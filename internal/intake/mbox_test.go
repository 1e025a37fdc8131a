package intake

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMbox = "From alice@example.com Mon Mar  4 08:00:00 2024\n" +
	"From: alice@example.com\n" +
	"To: support@corp.com\n" +
	"Subject: login issue\n" +
	"Message-Id: <m1@example.com>\n" +
	"\n" +
	"I cannot log in.\n" +
	"\n" +
	"From bob@example.net Mon Mar  4 09:00:00 2024\n" +
	"From: bob@example.net\n" +
	"To: sales@corp.com\n" +
	"Subject: pricing question\n" +
	"Message-Id: <m2@example.net>\n" +
	"\n" +
	"What does the enterprise plan cost?\n"

func TestReadMbox(t *testing.T) {
	records, errs := ReadMbox(strings.NewReader(sampleMbox), received)
	require.Empty(t, errs)
	require.Len(t, records, 2)

	assert.Equal(t, "login issue", records[0].Subject)
	assert.Equal(t, "<m1@example.com>", records[0].MessageID)
	assert.Equal(t, []string{"support@corp.com"}, records[0].Recipients)
	assert.Equal(t, "pricing question", records[1].Subject)
	assert.Equal(t, "example.net", records[1].SenderDomain())
}

func TestReadMbox_Empty(t *testing.T) {
	records, errs := ReadMbox(strings.NewReader(""), received)
	assert.Empty(t, records)
	assert.Empty(t, errs)
}

func TestReadMboxFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(sampleMbox), 0o644))

	records, errs := ReadMboxFile(path, received)
	require.Empty(t, errs)
	assert.Len(t, records, 2)

	_, errs = ReadMboxFile(filepath.Join(t.TempDir(), "missing.mbox"), received)
	assert.Len(t, errs, 1)
}
