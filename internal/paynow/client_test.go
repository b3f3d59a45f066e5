package paynow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	return NewClient(Config{
		IntegrationID:  "1234",
		IntegrationKey: testKey,
		InitiateURL:    serverURL,
		ReturnURL:      "https://taxi.example/paynow/return",
		ResultURL:      "https://taxi.example/paynow/result",
		VerifySSL:      true,
		CreateTimeout:  time.Second,
		PollTimeout:    time.Second,
	})
}

func TestCreateTransaction_Responses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, res InitResult)
	}{
		{
			name:   "form encoded ok",
			status: http.StatusOK,
			body:   "status=Ok&browserurl=https%3a%2f%2fpaynow%2fpay&pollurl=https%3a%2f%2fpaynow%2fpoll&paynowreference=998",
			check: func(t *testing.T, res InitResult) {
				ok, isOK := res.(InitSuccess)
				require.True(t, isOK, "got %T", res)
				assert.Equal(t, "https://paynow/pay", ok.RedirectURL)
				assert.Equal(t, "https://paynow/poll", ok.PollURL)
				assert.Equal(t, "998", ok.ProviderReference)
			},
		},
		{
			name:   "json with nested data",
			status: http.StatusOK,
			body:   `{"status":"ok","redirectUrl":"https://paynow/pay","response":{"data":{"paynowreference":"77","poll_url":"https://paynow/poll"}}}`,
			check: func(t *testing.T, res InitResult) {
				ok, isOK := res.(InitSuccess)
				require.True(t, isOK, "got %T", res)
				assert.Equal(t, "77", ok.ProviderReference)
				assert.Equal(t, "https://paynow/poll", ok.PollURL)
			},
		},
		{
			name:   "error with poll url is soft",
			status: http.StatusOK,
			body:   "status=Error&error=Duplicate+reference&pollurl=https%3a%2f%2fpaynow%2fpoll",
			check: func(t *testing.T, res InitResult) {
				soft, isSoft := res.(InitSoftFailure)
				require.True(t, isSoft, "got %T", res)
				assert.Equal(t, "Duplicate reference", soft.Reason)
				assert.Equal(t, "https://paynow/poll", soft.PollURL)
			},
		},
		{
			name:   "error without handles is rejected",
			status: http.StatusOK,
			body:   "status=Error&error=Invalid+id",
			check: func(t *testing.T, res InitResult) {
				hard, isHard := res.(InitHardFailure)
				require.True(t, isHard, "got %T", res)
				assert.Equal(t, FailureRejected, hard.Kind)
				assert.False(t, hard.Ambiguous())
			},
		},
		{
			name:   "empty body is soft",
			status: http.StatusOK,
			body:   "",
			check: func(t *testing.T, res InitResult) {
				_, isSoft := res.(InitSoftFailure)
				assert.True(t, isSoft, "got %T", res)
			},
		},
		{
			name:   "html body is soft",
			status: http.StatusOK,
			body:   "<html><body>Something went wrong</body></html>",
			check: func(t *testing.T, res InitResult) {
				soft, isSoft := res.(InitSoftFailure)
				require.True(t, isSoft, "got %T", res)
				assert.Contains(t, soft.Raw["raw_response"], "Something went wrong")
			},
		},
		{
			name:   "server error is ambiguous",
			status: http.StatusBadGateway,
			body:   "bad gateway",
			check: func(t *testing.T, res InitResult) {
				hard, isHard := res.(InitHardFailure)
				require.True(t, isHard, "got %T", res)
				assert.Equal(t, FailureHTTPStatus, hard.Kind)
				assert.Equal(t, http.StatusBadGateway, hard.StatusCode)
				assert.True(t, hard.Ambiguous())
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			res := newTestClient(server.URL).CreateTransaction(context.Background(), InitRequest{
				Amount:    decimal.RequireFromString("25"),
				Reference: "pay-1",
				Email:     "rider@example.com",
			})
			tt.check(t, res)
		})
	}
}

func TestCreateTransaction_SendsSignedGenericInitiation(t *testing.T) {
	t.Parallel()

	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(body))
		_, _ = io.WriteString(w, "status=Ok&browserurl=https%3a%2f%2fpaynow%2fpay")
	}))
	defer server.Close()

	client := NewClient(Config{
		IntegrationID:  "1234",
		IntegrationKey: testKey,
		InitiateURL:    server.URL,
		MerchantEmail:  "owner@taxi.example",
		VerifySSL:      true,
	})
	client.CreateTransaction(context.Background(), InitRequest{
		Amount:    decimal.RequireFromString("46.5"),
		Reference: "pay-2",
		Email:     "rider@example.com",
		Phone:     "0771234567",
	})

	require.NotNil(t, got)
	assert.Equal(t, "46.50", got.Get("amount"))
	assert.Equal(t, "owner@taxi.example", got.Get("authemail"))
	assert.Equal(t, "Message", got.Get("status"))
	assert.Equal(t, "pay-2", got.Get("reference"))
	assert.Empty(t, got.Get("method"))
	assert.Equal(t, RequestHash(got, testKey), got.Get("hash"))
}

func TestCreateTransaction_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(Config{
		IntegrationID:  "1234",
		IntegrationKey: testKey,
		InitiateURL:    server.URL,
		CreateTimeout:  50 * time.Millisecond,
	})
	res := client.CreateTransaction(context.Background(), InitRequest{Amount: decimal.NewFromInt(25), Reference: "pay-3"})

	hard, ok := res.(InitHardFailure)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, FailureTimeout, hard.Kind)
	assert.True(t, hard.Ambiguous())
}

func TestCreateTransaction_ConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	res := newTestClient(addr).CreateTransaction(context.Background(), InitRequest{Amount: decimal.NewFromInt(25), Reference: "pay-4"})

	hard, ok := res.(InitHardFailure)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, FailureConnection, hard.Kind)
	assert.False(t, hard.Ambiguous())
}

func TestCreateTransaction_NotConfigured(t *testing.T) {
	t.Parallel()

	res := NewClient(Config{}).CreateTransaction(context.Background(), InitRequest{Amount: decimal.NewFromInt(25)})
	hard, ok := res.(InitHardFailure)
	require.True(t, ok)
	assert.Equal(t, FailureConfig, hard.Kind)
}

func TestPollStatus_Parsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantPaid   bool
		wantStatus string
		structured bool
	}{
		{name: "json paid flag", body: `{"paid": true, "status": "Paid"}`, wantPaid: true, wantStatus: "Paid", structured: true},
		{name: "json status only", body: `{"payment_status": "Awaiting Delivery"}`, wantPaid: false, wantStatus: "Awaiting Delivery", structured: true},
		{name: "json not paid", body: `{"message": "Not Paid"}`, wantPaid: false, wantStatus: "Not Paid", structured: true},
		{name: "form paid", body: "reference=r&amount=25.00&status=Paid&paynowreference=9", wantPaid: true, wantStatus: "Paid", structured: true},
		{name: "form cancelled", body: "reference=r&status=Cancelled", wantPaid: false, wantStatus: "Cancelled", structured: true},
		{name: "html success", body: "<html><h1>Payment received, thank you</h1></html>", wantPaid: true, wantStatus: "Paid (scraped)"},
		{name: "html not paid", body: "<html>This invoice is not paid yet</html>", wantPaid: false, wantStatus: "Pending (scraped)"},
		{name: "empty", body: "", wantPaid: false, wantStatus: "Unknown"},
		{name: "form unsuccessful", body: "reference=r&amount=25.00&status=Unsuccessful", wantPaid: false, wantStatus: "Unsuccessful", structured: true},
		{name: "form completed is not paid", body: "reference=r&status=Completed", wantPaid: false, wantStatus: "Completed", structured: true},
		{name: "json payment unsuccessful", body: `{"status": "Payment unsuccessful"}`, wantPaid: false, wantStatus: "Payment unsuccessful", structured: true},
		{name: "json paid flag without status", body: `{"paid": true}`, wantPaid: true, wantStatus: "Paid", structured: true},
		{name: "json paid flag contradicted by status", body: `{"paid": true, "status": "Sent"}`, wantPaid: false, wantStatus: "Sent", structured: true},
		{name: "html not successful", body: "<html>Your payment was not successful</html>", wantPaid: false, wantStatus: "Pending (scraped)"},
		{name: "html not completed", body: "<html>Transaction not completed</html>", wantPaid: false, wantStatus: "Pending (scraped)"},
		{name: "html incomplete", body: "<html>Payment incomplete, try again</html>", wantPaid: false, wantStatus: "Pending (scraped)"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			res, err := newTestClient(server.URL).PollStatus(context.Background(), server.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaid, res.Paid)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.structured, res.Structured)
		})
	}
}

func TestPollStatus_FormAmountAndReference(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "reference=r&paynowreference=35216224&amount=1324.50&status=Paid")
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).PollStatus(context.Background(), server.URL)
	require.NoError(t, err)
	require.NotNil(t, res.Amount)
	assert.Equal(t, "1324.5", res.Amount.String())
	assert.Equal(t, "35216224", res.ProviderReference)
}

func TestPollStatus_TransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := newTestClient(addr).PollStatus(context.Background(), addr)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusPaid, ClassifyStatus(" PAID "))
	assert.Equal(t, StatusFailed, ClassifyStatus("Cancelled"))
	assert.Equal(t, StatusFailed, ClassifyStatus("expired"))
	assert.Equal(t, StatusIntermediate, ClassifyStatus("Awaiting Delivery"))
	assert.Equal(t, StatusIntermediate, ClassifyStatus("Not Paid"))
}

func TestCheckPaymentURLFor(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	assert.Equal(t, "https://www.paynow.co.zw/Interface/CheckPayment/?guid=abc", cfg.CheckPaymentURLFor("abc"))
	assert.Empty(t, cfg.CheckPaymentURLFor(""))
}
