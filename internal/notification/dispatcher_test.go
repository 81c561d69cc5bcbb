package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

const testEndpoint = "https://alerts.example.com/api"

func testSettings() *conf.NotificationSettings {
	return &conf.NotificationSettings{
		Endpoint: testEndpoint + "/",
		Timeout:  conf.Duration(time.Second),
		Token:    "user-token",
		Retry: conf.RetrySettings{
			MaxAttempts:    3,
			InitialBackoff: conf.Duration(time.Millisecond),
			MaxBackoff:     conf.Duration(4 * time.Millisecond),
		},
	}
}

func newTestDispatcher(t *testing.T, settings *conf.NotificationSettings) (*Dispatcher, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	d := NewDispatcher(settings, logger.NewNopLogger(), WithHTTPClient(&http.Client{Transport: transport}))
	return d, transport
}

func sampleRequest() *Request {
	return &Request{
		SensorData: map[string]any{"soilMoisturePct": 25.0},
		DeviceID:   "field-1",
		Alert: Alert{
			ID:           "r1",
			UserID:       "u1",
			Parameter:    "soilMoisturePct",
			Comparison:   "<",
			Threshold:    30,
			CurrentValue: 25,
			Contact:      Contact{Type: "email", Value: "farmer@example.com"},
			TriggeredAt:  time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC),
		},
	}
}

func TestDispatch_SendsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(t, testSettings())
	assert.Equal(t, testEndpoint+"/process-alerts", d.URL())

	var got map[string]any
	transport.RegisterResponder(http.MethodPost, testEndpoint+"/process-alerts",
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
		})

	resp, err := d.Dispatch(t.Context(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 1, transport.GetTotalCallCount())

	assert.Equal(t, "field-1", got["deviceId"])
	assert.Contains(t, got, "sensorData")
	alert, ok := got["alert"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 30.0, alert["threshold"], 0)
	assert.InDelta(t, 25.0, alert["currentValue"], 0)
}

func TestDispatch_AnyTwoHundredIsSuccess(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(t, testSettings())
	transport.RegisterResponder(http.MethodPost, d.URL(), httpmock.NewStringResponder(http.StatusAccepted, ""))

	resp, err := d.Dispatch(t.Context(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(t, testSettings())
	transport.RegisterResponder(http.MethodPost, d.URL(),
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusBadGateway, "upstream"),
			httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down"),
			httpmock.NewStringResponse(http.StatusOK, ""),
		}))

	resp, err := d.Dispatch(t.Context(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestDispatch_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(t, testSettings())
	transport.RegisterResponder(http.MethodPost, d.URL(), httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	resp, err := d.Dispatch(t.Context(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 3, transport.GetTotalCallCount())

	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestDispatch_ClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(t, testSettings())
	transport.RegisterResponder(http.MethodPost, d.URL(), httpmock.NewStringResponder(http.StatusUnauthorized, "bad token"))

	resp, err := d.Dispatch(t.Context(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestDispatch_NetworkErrorIsRetried(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(t, testSettings())
	transport.RegisterResponder(http.MethodPost, d.URL(), httpmock.NewErrorResponder(assert.AnError))

	resp, err := d.Dispatch(t.Context(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, 0, resp.StatusCode)
}

func TestDispatch_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Retry.InitialBackoff = conf.Duration(time.Hour)
	settings.Retry.MaxBackoff = conf.Duration(time.Hour)
	d, transport := newTestDispatcher(t, settings)
	transport.RegisterResponder(http.MethodPost, d.URL(), httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	resp, err := d.Dispatch(ctx, sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, resp.Attempts)
}

func TestDispatch_NoEndpoint(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Endpoint = ""
	d, transport := newTestDispatcher(t, settings)

	_, err := d.Dispatch(t.Context(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestDispatch_ClientCredentials(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Token = ""
	settings.OAuth2 = conf.OAuth2Settings{
		ClientID:     "agrialert",
		ClientSecret: "s3cret",
		TokenURL:     "https://auth.example.com/token",
	}
	d, transport := newTestDispatcher(t, settings)

	transport.RegisterResponder(http.MethodPost, "https://auth.example.com/token",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"access_token": "minted",
			"token_type":   "bearer",
			"expires_in":   3600,
		}))
	transport.RegisterResponder(http.MethodPost, d.URL(),
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer minted", r.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	_, err := d.Dispatch(t.Context(), sampleRequest())
	require.NoError(t, err)

	_, err = d.Dispatch(t.Context(), sampleRequest())
	require.NoError(t, err)

	info := transport.GetCallCountInfo()
	assert.Equal(t, 1, info["POST https://auth.example.com/token"], "token is cached between dispatches")
}

func TestDispatch_ExplicitTokenSource(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	d := NewDispatcher(testSettings(), logger.NewNopLogger(),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "override"})))

	transport.RegisterResponder(http.MethodPost, d.URL(),
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer override", r.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	_, err := d.Dispatch(t.Context(), sampleRequest())
	require.NoError(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-5"))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, retryable(0))
	assert.True(t, retryable(http.StatusTooManyRequests))
	assert.True(t, retryable(http.StatusInternalServerError))
	assert.True(t, retryable(http.StatusGatewayTimeout))
	assert.False(t, retryable(http.StatusBadRequest))
	assert.False(t, retryable(http.StatusNotFound))
}
