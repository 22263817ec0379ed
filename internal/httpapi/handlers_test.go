package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"orgauth.dev/internal/auth"
	"orgauth.dev/internal/obs"
)

const (
	testSecret       = "http-test-secret-0123456789abcdef"
	operatorEmail    = "ops@platform.io"
	operatorPassword = "operator-pass"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	restore := obs.SetLogger(zap.NewNop())
	t.Cleanup(restore)

	codec, err := auth.NewTokenCodec(testSecret)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	store := auth.NewMemoryStore()
	revoked := auth.NewMemoryRevocationStore(codec)
	hasher := auth.BcryptHasher(bcrypt.MinCost)
	svc, err := auth.NewService(store, codec, revoked, auth.WithHasher(hasher))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureSystemRoles(context.Background()); err != nil {
		t.Fatalf("EnsureSystemRoles: %v", err)
	}
	digest, err := hasher.Hash(operatorPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store.SeedOperator(auth.Operator{Email: operatorEmail, PasswordDigest: digest})

	api := New(Config{
		Service:       svc,
		Authenticator: auth.NewAuthenticator(codec, revoked),
		Guard:         auth.NewGuard(store, zap.NewNop()),
		Version:       "test",
		RateBurst:     100,
		RatePerSecond: 100,
		Logger:        zap.NewNop(),
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: store, t: t}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path, token string, body any) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, token, body)
}

func (c *apiClient) get(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, token, nil)
}

func (c *apiClient) expect(resp *http.Response, status int, out any) {
	c.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		c.t.Fatalf("%s %s: expected %d, got %d (%v)", resp.Request.Method, resp.Request.URL.Path, status, resp.StatusCode, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode response: %v", err)
		}
	}
}

func (c *apiClient) operatorToken() string {
	c.t.Helper()
	var res loginResponse
	c.expect(c.post("/platform/auth/login", "", loginRequest{Email: operatorEmail, Password: operatorPassword}), http.StatusOK, &res)
	return res.Token
}

func (c *apiClient) login(email, password string) loginResponse {
	c.t.Helper()
	var res loginResponse
	c.expect(c.post("/auth/login", "", loginRequest{Email: email, Password: password}), http.StatusOK, &res)
	return res
}

type inviteBody struct {
	Invitation struct {
		ID       string `json:"id"`
		RoleName string `json:"roleName"`
		Status   string `json:"status"`
	} `json:"invitation"`
	TempPassword string `json:"tempPassword"`
	DisplayName  string `json:"displayName"`
}

// setupOrg creates an organization and logs its owner in.
func (c *apiClient) setupOrg(slug string) (orgID, ownerToken string) {
	c.t.Helper()
	opToken := c.operatorToken()

	var org auth.Organization
	c.expect(c.post("/platform/orgs", opToken, createOrgRequest{Name: "Acme", Slug: slug}), http.StatusCreated, &org)

	var owner inviteBody
	c.expect(c.post("/platform/orgs/"+org.ID+"/owner", opToken, createOwnerRequest{Email: "owner@" + slug + ".io", DisplayName: "Olivia"}), http.StatusCreated, &owner)
	if owner.TempPassword == "" || owner.Invitation.RoleName != auth.RoleOwner || owner.DisplayName != "Olivia" {
		c.t.Fatalf("unexpected owner invite: %+v", owner)
	}

	res := c.login("owner@"+slug+".io", owner.TempPassword)
	if !res.MustChangePassword {
		c.t.Fatalf("owner logging in with temp password must change it")
	}
	return org.ID, res.Token
}

func TestInviteLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	orgID, ownerToken := api.setupOrg("acme-inc")

	var inv inviteBody
	api.expect(api.post("/orgs/"+orgID+"/invites", ownerToken, createInviteRequest{Email: "bob@x.com", RoleName: auth.RoleUser}), http.StatusCreated, &inv)
	if inv.TempPassword == "" || inv.Invitation.Status != string(auth.InvitePending) {
		t.Fatalf("unexpected invite: %+v", inv)
	}

	var accepted acceptInviteResponse
	api.expect(api.post("/invites/"+inv.Invitation.ID+"/accept", "", acceptInviteRequest{
		Email:        "bob@x.com",
		TempPassword: inv.TempPassword,
		NewPassword:  "bob-chosen",
	}), http.StatusOK, &accepted)
	if accepted.Membership == nil || accepted.Membership.RoleName != auth.RoleUser {
		t.Fatalf("unexpected accept response: %+v", accepted)
	}

	api.expect(api.post("/invites/"+inv.Invitation.ID+"/accept", "", acceptInviteRequest{
		Email:        "bob@x.com",
		TempPassword: inv.TempPassword,
		NewPassword:  "bob-again",
	}), http.StatusNotFound, nil)

	bob := api.login("bob@x.com", "bob-chosen")
	if bob.MustChangePassword {
		t.Fatal("accepted user must not need a password change")
	}

	var memberships struct {
		Memberships []auth.Membership `json:"memberships"`
	}
	api.expect(api.get("/me/memberships", bob.Token), http.StatusOK, &memberships)
	if len(memberships.Memberships) != 1 || memberships.Memberships[0].OrganizationID != orgID {
		t.Fatalf("unexpected memberships: %+v", memberships)
	}

	var profile map[string]any
	api.expect(api.get("/me/profile", bob.Token), http.StatusOK, &profile)
	if profile["email"] != "bob@x.com" {
		t.Fatalf("unexpected profile: %v", profile)
	}
	if _, leaked := profile["passwordDigest"]; leaked {
		t.Fatal("profile must not expose password digests")
	}
}

func TestCreateInviteRequiresOwnerOrAdmin(t *testing.T) {
	api := newTestAPI(t)
	orgID, ownerToken := api.setupOrg("acme-inc")

	var inv inviteBody
	api.expect(api.post("/orgs/"+orgID+"/invites", ownerToken, createInviteRequest{Email: "member@x.com", RoleName: auth.RoleUser, TempPassword: "member-temp"}), http.StatusCreated, &inv)
	if inv.TempPassword != "" {
		t.Fatal("a supplied temp password must not be echoed")
	}
	member := api.login("member@x.com", "member-temp")

	var body map[string]any
	api.expect(api.post("/orgs/"+orgID+"/invites", member.Token, createInviteRequest{Email: "x@x.com", RoleName: auth.RoleUser}), http.StatusForbidden, &body)
	if body["error"] != "forbidden" {
		t.Fatalf("unexpected error body: %v", body)
	}

	_, otherOwner := api.setupOrg("other-org")
	api.expect(api.post("/orgs/"+orgID+"/invites", otherOwner, createInviteRequest{Email: "y@x.com", RoleName: auth.RoleUser}), http.StatusForbidden, &body)
	if body["error"] != "forbidden" {
		t.Fatalf("non-member must get the same forbidden outcome: %v", body)
	}

	api.expect(api.post("/orgs/"+orgID+"/invites", api.operatorToken(), createInviteRequest{Email: "z@x.com", RoleName: auth.RoleUser}), http.StatusForbidden, nil)
}

func TestCreateInviteUnknownRoleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	orgID, ownerToken := api.setupOrg("acme-inc")

	var body map[string]any
	api.expect(api.post("/orgs/"+orgID+"/invites", ownerToken, createInviteRequest{Email: "bob@x.com", RoleName: "GOD"}), http.StatusNotFound, &body)
	if body["error"] != "role not found" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestCreateInviteRejectsBadInputWith400(t *testing.T) {
	api := newTestAPI(t)
	orgID, ownerToken := api.setupOrg("acme-inc")
	path := "/orgs/" + orgID + "/invites"

	for _, hours := range []int{-1, maxInviteHours + 1, 3000000} {
		api.expect(api.post(path, ownerToken, createInviteRequest{Email: "bob@x.com", RoleName: auth.RoleUser, ExpiresHours: hours}), http.StatusBadRequest, nil)
	}
	overlong := strings.Repeat("x", auth.MaxPasswordBytes+1)
	api.expect(api.post(path, ownerToken, createInviteRequest{Email: "bob@x.com", RoleName: auth.RoleUser, TempPassword: overlong}), http.StatusBadRequest, nil)

	var inv inviteBody
	api.expect(api.post(path, ownerToken, createInviteRequest{Email: "bob@x.com", RoleName: auth.RoleUser, ExpiresHours: maxInviteHours}), http.StatusCreated, &inv)
	api.expect(api.post("/invites/"+inv.Invitation.ID+"/accept", "", acceptInviteRequest{
		Email:        "bob@x.com",
		TempPassword: inv.TempPassword,
		NewPassword:  overlong,
	}), http.StatusBadRequest, nil)
}

func TestPlatformRoutesRequireOperator(t *testing.T) {
	api := newTestAPI(t)
	_, ownerToken := api.setupOrg("acme-inc")

	api.expect(api.post("/platform/orgs", ownerToken, createOrgRequest{Name: "X", Slug: "x"}), http.StatusForbidden, nil)
	api.expect(api.post("/platform/orgs", "", createOrgRequest{Name: "X", Slug: "x"}), http.StatusUnauthorized, nil)
	api.expect(api.get("/me/profile", api.operatorToken()), http.StatusForbidden, nil)
}

func TestDuplicateSlugConflict(t *testing.T) {
	api := newTestAPI(t)
	token := api.operatorToken()

	api.expect(api.post("/platform/orgs", token, createOrgRequest{Name: "Acme", Slug: "acme-inc"}), http.StatusCreated, nil)
	api.expect(api.post("/platform/orgs", token, createOrgRequest{Name: "Acme", Slug: "acme-inc"}), http.StatusConflict, nil)
}

func TestLogoutRevokesPresentedToken(t *testing.T) {
	api := newTestAPI(t)
	_, ownerToken := api.setupOrg("acme-inc")

	api.expect(api.get("/me/profile", ownerToken), http.StatusOK, nil)
	api.expect(api.post("/auth/logout", ownerToken, nil), http.StatusNoContent, nil)
	api.expect(api.get("/me/profile", ownerToken), http.StatusUnauthorized, nil)

	api.expect(api.post("/auth/logout", "", nil), http.StatusNoContent, nil)
	api.expect(api.post("/auth/logout", "garbage", nil), http.StatusNoContent, nil)

	opToken := api.operatorToken()
	api.expect(api.post("/platform/auth/logout", opToken, nil), http.StatusNoContent, nil)
	api.expect(api.post("/platform/orgs", opToken, createOrgRequest{Name: "Y", Slug: "y"}), http.StatusUnauthorized, nil)
}

func TestChangePasswordOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	opToken := api.operatorToken()

	var org auth.Organization
	api.expect(api.post("/platform/orgs", opToken, createOrgRequest{Name: "Acme", Slug: "acme-inc"}), http.StatusCreated, &org)
	api.expect(api.post("/platform/orgs/"+org.ID+"/owner", opToken, createOwnerRequest{Email: "owner@acme.io", TempPassword: "owner-temp"}), http.StatusCreated, nil)

	first := api.login("owner@acme.io", "owner-temp")
	api.expect(api.post("/auth/change-password", first.Token, changePasswordRequest{CurrentPassword: "wrong", NewPassword: "new-pass"}), http.StatusBadRequest, nil)
	api.expect(api.post("/auth/change-password", first.Token, changePasswordRequest{CurrentPassword: "owner-temp", NewPassword: "new-pass"}), http.StatusNoContent, nil)

	owner, err := api.store.Users().FindByEmail(context.Background(), "owner@acme.io")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if owner.MustChangePassword || owner.TempPasswordDigest != "" {
		t.Fatalf("expected temp credentials to be cleared: %+v", owner)
	}

	api.expect(api.post("/auth/login", "", loginRequest{Email: "owner@acme.io", Password: "owner-temp"}), http.StatusBadRequest, nil)
	if again := api.login("owner@acme.io", "new-pass"); again.MustChangePassword {
		t.Fatal("expected a regular login after the password change")
	}
}

func TestLoginErrors(t *testing.T) {
	api := newTestAPI(t)

	var body map[string]any
	api.expect(api.post("/auth/login", "", loginRequest{Email: "nobody@x.com", Password: "x"}), http.StatusBadRequest, &body)
	if body["error"] != auth.ErrInvalidCredentials.Error() {
		t.Fatalf("unexpected error: %v", body)
	}
	api.expect(api.post("/auth/login", "", map[string]any{"email": "a", "password": "b", "extra": true}), http.StatusBadRequest, nil)
	api.expect(api.post("/platform/auth/login", "", loginRequest{Email: operatorEmail, Password: "wrong"}), http.StatusBadRequest, nil)
}

func TestHealthAndNotFound(t *testing.T) {
	api := newTestAPI(t)

	var health map[string]any
	api.expect(api.get("/healthz", ""), http.StatusOK, &health)
	if health["status"] != "ok" || health["service"] != serviceName {
		t.Fatalf("unexpected health body: %v", health)
	}
	api.expect(api.get("/readyz", ""), http.StatusOK, nil)

	var body map[string]any
	api.expect(api.get("/nope", ""), http.StatusNotFound, &body)
	if body["request_id"] == nil {
		t.Fatalf("expected request id in error body: %v", body)
	}
}
