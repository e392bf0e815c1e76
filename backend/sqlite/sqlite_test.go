package sqlite

import (
	"testing"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/test"
)

func TestSqliteStore(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	test.StoreTest(t, func() backend.Store {
		return NewInMemoryStore()
	}, nil)
}
