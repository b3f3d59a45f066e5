package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi/internal/paynow"
)

func TestCheckHash_ReportsMatchingCandidate(t *testing.T) {
	body := "id=7&reference=abc&paynowreference=PN-1&amount=25.00&status=Paid"
	digest, err := paynow.DigestFor("sha512_values_key", []byte(body), "k1")
	require.NoError(t, err)

	cmd := checkHashCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--key", "k1", body + "&hash=" + strings.ToUpper(digest)})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Incoming:  "+strings.ToUpper(digest))
	assert.Contains(t, out.String(), "accepted=true")
	assert.Contains(t, out.String(), "candidate=sha512_values_key")
	assert.Regexp(t, `\* sha512_values_key\s+`+digest, out.String())
}

func TestCheckHash_HeaderSignature(t *testing.T) {
	body := "reference=abc&status=Paid"

	cmd := checkHashCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(body + "\n"))
	cmd.SetArgs([]string{"--key", "k1", "--signature", paynow.Sign([]byte(body), "k1")})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "accepted=true strategy=header_signature")
}

func TestSimulateWebhook_PostsSignedBody(t *testing.T) {
	var gotBody, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotSig = r.Header.Get(paynow.SignatureHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cmd := simulateWebhookCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--url", srv.URL, "--key", "k1", "--reference", "pay-1", "--amount", "25.00"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "amount=25.00&reference=pay-1&status=Paid", gotBody)
	assert.Equal(t, paynow.Sign([]byte(gotBody), "k1"), gotSig)
	assert.Contains(t, out.String(), "Status: 200")
}

func TestSimulateWebhook_HashScheme(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cmd := simulateWebhookCmd()
	cmd.SetOut(io.Discard)
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--url", srv.URL, "--key", "k1", "--reference", "pay-1", "--scheme", "hash"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, stderr.String(), "sha512_values_key is a diagnostic candidate")

	n := paynow.ParseNotification([]byte(gotBody), nil)
	assert.False(t, paynow.NewVerifier("k1").Verify(n).Accepted, "production verifier rejects diagnostic hashes")

	verdict := paynow.NewVerifier("k1", paynow.WithDiagnostics(true)).Verify(n)
	assert.True(t, verdict.Accepted)
	assert.Equal(t, "hash_field", verdict.Strategy)
}

func TestLooksLikeURL(t *testing.T) {
	assert.True(t, looksLikeURL("https://www.paynow.co.zw/interface/checkpayment/?guid=1"))
	assert.True(t, looksLikeURL("http://localhost:8080/x"))
	assert.False(t, looksLikeURL("PN-12345"))
	assert.False(t, looksLikeURL("http:/"))
}
