package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

func TestSinkStoresRecords(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.Write(context.Background(), record.Normalize(record.Raw{record.FieldName: "A"}, "https://x.de/1", "80331")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Write(context.Background(), record.ErrorRecord("https://x.de/2", "80331", nil)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	recs := s.Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	recs[0].SourceURL = "modified"
	if s.Records()[0].SourceURL == "modified" {
		t.Fatal("expected Records() to return a copy")
	}
	if err := s.Close(); err != nil || !s.Closed() {
		t.Fatalf("Close() = %v, closed = %v", err, s.Closed())
	}
}
