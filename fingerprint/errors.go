package fingerprint

import "github.com/depwarm/depwarm"

func errNilManifest() error {
	return depwarm.NewError(depwarm.KindManifestInvalid, "manifest is nil")
}
