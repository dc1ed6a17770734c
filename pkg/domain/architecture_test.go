package domain

import (
	"testing"

	"labcore/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.Internal, "pkg/domain is the public contract")
}
