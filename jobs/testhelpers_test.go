package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pdf-checker/models"
)

const testStaleAfter = 10 * time.Minute

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func registerDocument(t *testing.T, m *DocumentMachine, content string) *models.Document {
	t.Helper()
	sum := sha256.Sum256([]byte(content))
	doc, created, err := m.Register(context.Background(), &models.Document{
		ID:               uuid.NewString(),
		Fingerprint:      hex.EncodeToString(sum[:]),
		OriginalFilename: content + ".pdf",
		FileSize:         int64(len(content)),
	})
	require.NoError(t, err)
	require.True(t, created)
	return doc
}

// analyzedDocument drives a document through the analysis stage with the given verdict.
func analyzedDocument(t *testing.T, m *DocumentMachine, content string, accessible bool) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc := registerDocument(t, m, content)
	lease, err := m.Claim(ctx, doc.ID, time.Now())
	require.NoError(t, err)
	settled, err := m.Complete(ctx, lease, &models.AnalysisResult{IsAccessible: accessible})
	require.NoError(t, err)
	require.True(t, settled.Applied)
	return doc
}
