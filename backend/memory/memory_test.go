package memory

import (
	"testing"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/test"
)

func Test_MemoryStore(t *testing.T) {
	test.StoreTest(t, func() backend.Store {
		return NewMemoryStore()
	}, nil)
}
