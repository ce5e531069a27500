package storage

import (
	"strings"
	"testing"

	"bloodreport/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestNewReportKey(t *testing.T) {
	key := NewReportKey("Blood Report.PDF")
	assert.True(t, strings.HasPrefix(key, ReportPrefix))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.True(t, IsReportKey(key))

	assert.True(t, strings.HasSuffix(NewReportKey("noext"), ".pdf"))
	assert.NotEqual(t, NewReportKey("a.pdf"), NewReportKey("a.pdf"))
}

func TestIsReportKey(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "reports/0b9f3c1e-5d2a-4e61-9a53-7c1f2b8d4e10.pdf", want: true},
		{path: "data/blood_test_report-123.pdf", want: false},
		{path: ReportPrefix, want: false},
		// DATA_DIR=reports puts temp files under the same prefix.
		{path: "reports/blood_test_report-123.pdf", want: false},
		{path: "reports/0b9f3c1e-5d2a-4e61-9a53-7c1f2b8d4e10", want: false},
		{path: "reports/nested/0b9f3c1e-5d2a-4e61-9a53-7c1f2b8d4e10.pdf", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsReportKey(tt.path), tt.path)
	}
}

func TestNewMinIOValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MinIOConfig
		want string
	}{
		{name: "missing endpoint", cfg: config.MinIOConfig{}, want: "endpoint is required"},
		{name: "missing credentials", cfg: config.MinIOConfig{Endpoint: "localhost:9000"}, want: "credentials are required"},
		{name: "missing bucket", cfg: config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}, want: "bucket is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewMinIO(tt.cfg)
			assert.Nil(t, s)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
