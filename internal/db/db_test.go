package db

import (
	"context"
	"testing"
)

func TestConnectRejectsMalformedURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz", Options{})
	if err == nil {
		t.Fatal("expected parse error")
	}
}
