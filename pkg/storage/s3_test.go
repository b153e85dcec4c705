package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExportKey(t *testing.T) {
	assert.Equal(t, "exports/7c1d/results.json", ExportKey("7c1d"))
	assert.Equal(t, "exports/results.json", ExportKey(""))
}

func TestS3ConfigEnabled(t *testing.T) {
	assert.False(t, S3Config{}.Enabled())
	assert.False(t, S3Config{Region: "eu-west-1"}.Enabled())
	assert.True(t, S3Config{Region: "eu-west-1", ExportsBucket: "b"}.Enabled())
}

func TestPresignExpireDefault(t *testing.T) {
	assert.Equal(t, "15m0s", (&S3{}).PresignExpire().String())
	assert.Equal(t, "5m0s", (&S3{cfg: S3Config{PresignExpireMinutes: 5}}).PresignExpire().String())
}
