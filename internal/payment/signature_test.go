package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"event":{"id":"evt_1","type":"charge:confirmed"}}`)
	secret := "whsec_test"
	sig := Sign(body, secret)

	assert.True(t, Verify(body, sig, secret))
	assert.True(t, Verify(body, " "+sig+" ", secret))

	cases := map[string]struct {
		body   []byte
		sig    string
		secret string
	}{
		"tampered body":  {append([]byte{}, append(body, ' ')...), sig, secret},
		"wrong secret":   {body, sig, "other"},
		"missing sig":    {body, "", secret},
		"not hex":        {body, "zz" + sig[2:], secret},
		"truncated sig":  {body, sig[:10], secret},
		"missing secret": {body, sig, ""},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, Verify(c.body, c.sig, c.secret))
		})
	}
}
