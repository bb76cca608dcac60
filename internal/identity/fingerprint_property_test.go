//go:build property

package identity

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFingerprintProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("same input yields same fingerprint", prop.ForAll(
		func(version, platform string, dev bool, plugins []string) bool {
			target := Target{Platform: platform, Dev: dev}
			transform := map[string]any{"platform": platform, "plugins": plugins}
			return Fingerprint(version, target, transform, plugins) ==
				Fingerprint(version, target, transform, append([]string(nil), plugins...))
		},
		gen.AlphaString(),
		gen.OneConstOf("ios", "android", "web"),
		gen.Bool(),
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("swapping two distinct plugins changes the fingerprint", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			target := Target{Platform: "ios", Dev: true}
			return Fingerprint("v", target, nil, []string{a, b}) !=
				Fingerprint("v", target, nil, []string{b, a})
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("fingerprint is a 32 char hex string", prop.ForAll(
		func(version string) bool {
			fp := Fingerprint(version, Target{}, nil, nil)
			if len(fp) != 32 {
				return false
			}
			for _, r := range fp {
				if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
