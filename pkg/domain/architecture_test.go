package domain_test

import (
	"testing"

	"github.com/salehzaid/slamaty-sub000/testutil"
)

func TestDomainImportsStayStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain is shared by every layer")
	testutil.AssertNoDirectImports(t, ".", testutil.ThirdPartyImport, "pkg/domain carries no third-party types")
}
