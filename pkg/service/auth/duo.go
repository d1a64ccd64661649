package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
	"github.com/secmon-lab/vigil/pkg/utils/safe"
)

// Duo implements the 2FA capability over the Duo Auth API v2. All calls are
// non-blocking: a challenge is issued asynchronously and its transaction ID is
// polled for the outcome.
type Duo struct {
	host           string
	integrationKey string
	secretKey      string
	httpClient     *http.Client
}

var _ interfaces.AuthClient = &Duo{}

type DuoOption func(*Duo)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) DuoOption {
	return func(d *Duo) {
		d.httpClient = client
	}
}

func NewDuo(host, integrationKey, secretKey string, opts ...DuoOption) (*Duo, error) {
	if host == "" || integrationKey == "" || secretKey == "" {
		return nil, goerr.New("duo host, integration key and secret key are required")
	}

	d := &Duo{
		host:           host,
		integrationKey: integrationKey,
		secretKey:      secretKey,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type duoResponse struct {
	Stat     string          `json:"stat"`
	Response json.RawMessage `json:"response"`
	Message  string          `json:"message"`
}

type duoPreauth struct {
	Result  string `json:"result"`
	Devices []struct {
		Capabilities []string `json:"capabilities"`
	} `json:"devices"`
}

type duoAuth struct {
	TxID string `json:"txid"`
}

type duoAuthStatus struct {
	Result  string `json:"result"`
	Waiting bool   `json:"waiting"`
}

func (x *Duo) Supports(ctx context.Context, userName types.UserName) (bool, error) {
	params := url.Values{"username": {userName.String()}}

	var preauth duoPreauth
	if err := x.call(ctx, http.MethodPost, "/auth/v2/preauth", params, &preauth); err != nil {
		return false, goerr.Wrap(err, "duo preauth failed", goerr.V("user", userName))
	}

	if preauth.Result != "auth" {
		return false, nil
	}
	for _, device := range preauth.Devices {
		for _, capability := range device.Capabilities {
			if capability == "push" {
				return true, nil
			}
		}
	}
	return false, nil
}

func (x *Duo) StartChallenge(ctx context.Context, userName types.UserName, reason string) (types.AuthSessionID, error) {
	pushinfo := url.Values{"from": {"vigil"}}
	if reason != "" {
		pushinfo.Set("reason", reason)
	}

	params := url.Values{
		"username": {userName.String()},
		"factor":   {"push"},
		"device":   {"auto"},
		"async":    {"1"},
		"type":     {"vigil verification"},
		"pushinfo": {pushinfo.Encode()},
	}

	var auth duoAuth
	if err := x.call(ctx, http.MethodPost, "/auth/v2/auth", params, &auth); err != nil {
		return types.EmptyAuthSessionID, goerr.Wrap(err, "duo auth failed", goerr.V("user", userName))
	}
	if auth.TxID == "" {
		return types.EmptyAuthSessionID, goerr.New("duo returned empty txid",
			goerr.T(errs.TagAuthError),
			goerr.V("user", userName))
	}

	return types.AuthSessionID(auth.TxID), nil
}

func (x *Duo) PollStatus(ctx context.Context, session types.AuthSessionID) (types.AuthStatus, error) {
	params := url.Values{"txid": {session.String()}}

	var st duoAuthStatus
	if err := x.call(ctx, http.MethodGet, "/auth/v2/auth_status", params, &st); err != nil {
		return types.AuthStatusError, goerr.Wrap(err, "duo auth_status failed", goerr.V("txid", session))
	}

	if st.Waiting {
		return types.AuthStatusPending, nil
	}
	switch st.Result {
	case "allow":
		return types.AuthStatusApproved, nil
	case "deny":
		return types.AuthStatusDenied, nil
	default:
		// Settled, but neither allow nor deny. The challenge is over and
		// cannot succeed, so report it as an outcome rather than an error
		// the caller would retry until the auth timeout.
		logging.From(ctx).Warn("unexpected duo auth result",
			"result", st.Result, "txid", session)
		return types.AuthStatusError, nil
	}
}

func (x *Duo) call(ctx context.Context, method, path string, params url.Values, out any) error {
	encoded := canonicalParams(params)

	reqURL := "https://" + x.host + path
	var body io.Reader
	if method == http.MethodGet {
		reqURL += "?" + encoded
	} else {
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return goerr.Wrap(err, "failed to build duo request")
	}

	date := time.Now().UTC().Format(time.RFC1123Z)
	req.Header.Set("Date", date)
	req.Header.Set("Authorization", x.sign(date, method, path, encoded))
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "duo request failed",
			goerr.T(errs.TagExternal),
			goerr.V("path", path))
	}
	defer safe.Close(ctx, resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerr.Wrap(err, "failed to read duo response", goerr.T(errs.TagExternal))
	}

	var envelope duoResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return goerr.Wrap(err, "failed to parse duo response",
			goerr.T(errs.TagExternal),
			goerr.V("status", resp.StatusCode))
	}
	if envelope.Stat != "OK" {
		return goerr.New("duo API error",
			goerr.T(errs.TagAuthError),
			goerr.V("status", resp.StatusCode),
			goerr.V("message", envelope.Message))
	}

	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return goerr.Wrap(err, "failed to parse duo response payload", goerr.T(errs.TagExternal))
	}
	return nil
}

// sign builds the Duo Authorization header: HMAC-SHA1 over the canonical
// request, keyed with the secret key, presented as HTTP basic auth.
func (x *Duo) sign(date, method, path, params string) string {
	canon := strings.Join([]string{
		date,
		strings.ToUpper(method),
		strings.ToLower(x.host),
		path,
		params,
	}, "\n")

	mac := hmac.New(sha1.New, []byte(x.secretKey))
	mac.Write([]byte(canon))
	sig := hex.EncodeToString(mac.Sum(nil))

	cred := base64.StdEncoding.EncodeToString([]byte(x.integrationKey + ":" + sig))
	return "Basic " + cred
}

// canonicalParams encodes parameters sorted by key as the Duo signature
// requires, with the percent-encoding Duo expects.
func canonicalParams(params url.Values) string {
	return strings.ReplaceAll(params.Encode(), "+", "%20")
}
