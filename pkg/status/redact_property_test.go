package status

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_RedactHidesSecrets(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	r := NewRedactor()

	secret := gen.RegexMatch(`[a-zA-Z0-9]{8,20}`).SuchThat(func(s string) bool {
		return !strings.Contains("credentials", s)
	})

	properties.Property("url passwords never survive", prop.ForAll(
		func(user, pass string) bool {
			msg := fmt.Sprintf("dial redis://%s:%s@cache:6379: timeout", user, pass)
			return !strings.Contains(r.Redact(msg), pass)
		},
		gen.RegexMatch(`[a-z]{3,10}`),
		secret,
	))

	properties.Property("private 10/8 addresses never survive", prop.ForAll(
		func(b, c, d uint8) bool {
			ip := fmt.Sprintf("10.%d.%d.%d", b, c, d)
			return !strings.Contains(r.Redact("connect "+ip+" refused"), ip)
		},
		gen.UInt8(), gen.UInt8(), gen.UInt8(),
	))

	properties.Property("redaction is idempotent", prop.ForAll(
		func(user, pass string) bool {
			once := r.Redact(fmt.Sprintf("postgres://%s:%s@db password=%s", user, pass, pass))
			return r.Redact(once) == once
		},
		gen.RegexMatch(`[a-z]{3,10}`),
		secret,
	))

	properties.TestingRun(t)
}
