package wechat

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// GetUser fetches a follower's profile by openid.
func (c *Client) GetUser(ctx context.Context, openid string) (*User, error) {
	params := url.Values{}
	params.Set("openid", openid)
	result, err := c.Call(ctx, "user_info", http.MethodGet, params, nil)
	if err != nil {
		return nil, err
	}
	return userFromResult(result)
}

func userFromResult(result gjson.Result) (*User, error) {
	var u User
	if err := json.Unmarshal([]byte(result.Raw), &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	// The API returns tag ids as a JSON array; the record keeps the
	// comma-joined form.
	var tags []int
	for _, t := range result.Get("tagid_list").Array() {
		tags = append(tags, int(t.Int()))
	}
	u.SetTagIDs(tags)
	return &u, nil
}

// OpenIDPage is one page of the follower list.
type OpenIDPage struct {
	Total      int64
	OpenIDs    []string
	NextOpenID string // empty when this is the last page
}

// OpenIDs fetches one page of follower openids starting after next (empty
// for the first page).
func (c *Client) OpenIDs(ctx context.Context, next string) (*OpenIDPage, error) {
	params := url.Values{}
	params.Set("next_openid", next)
	result, err := c.Call(ctx, "user_list", http.MethodGet, params, nil)
	if err != nil {
		return nil, err
	}
	page := &OpenIDPage{
		Total:      result.Get("total").Int(),
		NextOpenID: result.Get("data.next_openid").String(),
	}
	for _, id := range result.Get("data.openid").Array() {
		page.OpenIDs = append(page.OpenIDs, id.String())
	}
	if len(page.OpenIDs) == 0 {
		// The platform echoes next_openid even on the empty final page.
		page.NextOpenID = ""
	}
	return page, nil
}

// AllOpenIDs walks every page of the follower list. For the total count
// alone prefer UserCount.
func (c *Client) AllOpenIDs(ctx context.Context) ([]string, error) {
	var all []string
	next := ""
	for {
		page, err := c.OpenIDs(ctx, next)
		if err != nil {
			return nil, err
		}
		all = append(all, page.OpenIDs...)
		if page.NextOpenID == "" {
			return all, nil
		}
		next = page.NextOpenID
	}
}

// UserCount returns the total number of followers.
func (c *Client) UserCount(ctx context.Context) (int64, error) {
	page, err := c.OpenIDs(ctx, "")
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

// PreviewMessage sends a text message to one user through the mass-message
// preview endpoint (rate-limited upstream to 100 calls per day; meant for
// checking layout, not delivery). The returned message id is zero for text
// previews.
func (c *Client) PreviewMessage(ctx context.Context, openid, text string) (int64, error) {
	body := map[string]any{
		"touser":  openid,
		"msgtype": "text",
		"text":    map[string]string{"content": text},
	}
	result, err := c.Call(ctx, "msg_preview", http.MethodPost, nil, body)
	if err != nil {
		return 0, err
	}
	return result.Get("msg_id").Int(), nil
}

// WebToken is a user's web-authorization session. It is distinct from the
// client-credential access token and never cached by the Client; the caller
// owns its lifecycle and renews it with RefreshWebAuth.
type WebToken struct {
	OpenID       string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// WebAuth exchanges a web-authorization code for the user's web session.
func (c *Client) WebAuth(ctx context.Context, code string) (*WebToken, error) {
	params := url.Values{}
	params.Set("appid", c.appID)
	params.Set("secret", c.secret)
	params.Set("code", code)
	params.Set("grant_type", "authorization_code")
	return c.webTokenExchange(ctx, c.endpoints["web_token"], params)
}

// RefreshWebAuth renews a web session from its refresh token.
func (c *Client) RefreshWebAuth(ctx context.Context, refreshToken string) (*WebToken, error) {
	params := url.Values{}
	params.Set("appid", c.appID)
	params.Set("refresh_token", refreshToken)
	params.Set("grant_type", "refresh_token")
	return c.webTokenExchange(ctx, c.endpoints["web_refresh_token"], params)
}

func (c *Client) webTokenExchange(ctx context.Context, endpointURL string, params url.Values) (*WebToken, error) {
	result, err := c.doJSON(ctx, http.MethodGet, endpointURL, params, nil)
	if err != nil {
		return nil, err
	}
	if code := result.Get("errcode").Int(); code != 0 {
		return nil, &APIError{Code: code, Msg: result.Get("errmsg").String()}
	}
	return &WebToken{
		OpenID:       result.Get("openid").String(),
		AccessToken:  result.Get("access_token").String(),
		RefreshToken: result.Get("refresh_token").String(),
		ExpiresIn:    result.Get("expires_in").Int(),
	}, nil
}

// WebOpenID resolves a web-authorization code to the user's openid without
// fetching the profile.
func (c *Client) WebOpenID(ctx context.Context, code string) (string, error) {
	token, err := c.WebAuth(ctx, code)
	if err != nil {
		return "", err
	}
	return token.OpenID, nil
}

// WebUser resolves a web-authorization code to the user's openid and full
// profile in one call.
func (c *Client) WebUser(ctx context.Context, code string) (string, *User, error) {
	webToken, err := c.WebAuth(ctx, code)
	if err != nil {
		return "", nil, err
	}

	params := url.Values{}
	params.Set("access_token", webToken.AccessToken)
	params.Set("openid", webToken.OpenID)
	result, err := c.doJSON(ctx, http.MethodGet, c.endpoints["web_user_info"], params, nil)
	if err != nil {
		return "", nil, err
	}
	if code := result.Get("errcode").Int(); code != 0 {
		return "", nil, &APIError{Code: code, Msg: result.Get("errmsg").String()}
	}
	user, err := userFromResult(result)
	if err != nil {
		return "", nil, err
	}
	return webToken.OpenID, user, nil
}

// ticketCache holds the jsapi ticket, which has the same fetch-lazily,
// expire-absolutely lifecycle as the access token.
type ticketCache struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
}

func (c *Client) jsAPITicket(ctx context.Context) (string, error) {
	c.jsTicket.mu.Lock()
	defer c.jsTicket.mu.Unlock()
	if c.jsTicket.value != "" && time.Now().Before(c.jsTicket.expiresAt) {
		return c.jsTicket.value, nil
	}

	params := url.Values{}
	params.Set("type", "jsapi")
	result, err := c.Call(ctx, "jsapi", http.MethodGet, params, nil)
	if err != nil {
		return "", err
	}
	c.jsTicket.value = result.Get("ticket").String()
	c.jsTicket.expiresAt = time.Now().Add(time.Duration(result.Get("expires_in").Int()) * time.Second)
	return c.jsTicket.value, nil
}

// JSSign produces the JS-SDK config for injecting the SDK into pageURL:
// appId, timestamp, nonceStr, signature, debug, url. The server-side step
// three of the JS-SDK setup flow.
func (c *Client) JSSign(ctx context.Context, pageURL string, debug bool) (map[string]string, error) {
	ticket, err := c.jsAPITicket(ctx)
	if err != nil {
		return nil, err
	}
	cfg := signJS(ticket, pageURL, randomNonce(15), time.Now().Unix(), debug)
	cfg["appId"] = c.appID
	return cfg, nil
}

// signJS computes the SHA-1 signature over the sorted key=value joined
// fields. The ticket participates in the signature but is stripped from the
// returned config.
func signJS(ticket, pageURL, nonce string, timestamp int64, debug bool) map[string]string {
	fields := map[string]string{
		"debug":        strconv.FormatBool(debug),
		"nonceStr":     nonce,
		"jsapi_ticket": ticket,
		"timestamp":    strconv.FormatInt(timestamp, 10),
		"url":          pageURL,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strings.ToLower(k) + "=" + fields[k]
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&")))

	delete(fields, "jsapi_ticket")
	fields["signature"] = hex.EncodeToString(sum[:])
	return fields
}

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomNonce(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = nonceAlphabet[rand.Intn(len(nonceAlphabet))]
	}
	return string(b)
}

// SetIndustry sets the account's two template-message industries (ids in
// 1..41). Rate-limited upstream; see IndustryChangeError.
func (c *Client) SetIndustry(ctx context.Context, primary, secondary int) error {
	body := map[string]string{
		"industry_id1": strconv.Itoa(primary),
		"industry_id2": strconv.Itoa(secondary),
	}
	_, err := c.Call(ctx, "set_industry", http.MethodPost, nil, body)
	return err
}

// Industry returns the account's configured template-message industries.
func (c *Client) Industry(ctx context.Context) (gjson.Result, error) {
	return c.Call(ctx, "get_industry", http.MethodGet, nil, nil)
}

// AddSystemTemplate adopts a template from the system library and returns
// the account-scoped template id.
func (c *Client) AddSystemTemplate(ctx context.Context, shortID string) (string, error) {
	result, err := c.Call(ctx, "add_template", http.MethodPost, nil,
		map[string]string{"template_id_short": shortID})
	if err != nil {
		return "", err
	}
	return result.Get("template_id").String(), nil
}

// DeleteTemplate removes a template from the account.
func (c *Client) DeleteTemplate(ctx context.Context, templateID string) error {
	_, err := c.Call(ctx, "del_template", http.MethodPost, nil,
		map[string]string{"template_id": templateID})
	return err
}

// Template is one entry of the account's private template list.
type Template struct {
	TemplateID      string `json:"template_id"`
	Title           string `json:"title"`
	PrimaryIndustry string `json:"primary_industry"`
	DeputyIndustry  string `json:"deputy_industry"`
	Content         string `json:"content"`
	Example         string `json:"example"`
}

// Templates lists all templates configured for the account.
func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	result, err := c.Call(ctx, "get_templates", http.MethodGet, nil, nil)
	if err != nil {
		return nil, err
	}
	var templates []Template
	if err := json.Unmarshal([]byte(result.Get("template_list").Raw), &templates); err != nil {
		return nil, fmt.Errorf("decode template list: %w", err)
	}
	return templates, nil
}

// TemplateMessageOptions are the optional jump targets of a template
// message. A mini-program target takes precedence over a plain URL.
type TemplateMessageOptions struct {
	URL             string
	MiniProgramID   string
	MiniProgramPath string
}

// SendTemplateMessage sends a template message to one user and returns the
// platform message id. Delivery completion arrives later as a
// TEMPLATESENDJOBFINISH event.
func (c *Client) SendTemplateMessage(ctx context.Context, openid, templateID string, data any, opts *TemplateMessageOptions) (int64, error) {
	body := map[string]any{
		"touser":      openid,
		"template_id": templateID,
		"data":        data,
	}
	if opts != nil {
		switch {
		case opts.MiniProgramID != "":
			body["miniprogram"] = map[string]string{
				"appid":    opts.MiniProgramID,
				"pagepath": opts.MiniProgramPath,
			}
		case opts.URL != "":
			body["url"] = opts.URL
		}
	}
	result, err := c.Call(ctx, "template_message_send", http.MethodPost, nil, body)
	if err != nil {
		return 0, err
	}
	return result.Get("msgid").Int(), nil
}

// VoiceDownloadURL builds the temporary-media download URL for a voice
// message's media id, with the current access token attached. The media
// endpoint streams binary content, so it is fetched by the caller rather
// than through Call.
func (c *Client) VoiceDownloadURL(ctx context.Context, mediaID string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("access_token", token)
	params.Set("media_id", mediaID)
	return c.endpoints["voice_download"] + "?" + params.Encode(), nil
}

// CreateMenu replaces the account's custom menu. The menu may be any
// JSON-marshalable value in the platform's menu schema.
func (c *Client) CreateMenu(ctx context.Context, menu any) error {
	_, err := c.Call(ctx, "menu_create", http.MethodPost, nil, menu)
	return err
}

// Menu returns the account's current custom menu definition.
func (c *Client) Menu(ctx context.Context) (gjson.Result, error) {
	return c.Call(ctx, "menu_get", http.MethodGet, nil, nil)
}

// DeleteMenu removes the account's custom menu.
func (c *Client) DeleteMenu(ctx context.Context) error {
	_, err := c.Call(ctx, "menu_delete", http.MethodGet, nil, nil)
	return err
}

// defaultSemanticCategories mirrors the full service-type list of the
// semantic understanding endpoint.
var defaultSemanticCategories = []string{
	"restaurant", "map", "nearby", "coupon", "travel",
	"hotel", "train", "flight", "weather", "stock", "remind",
	"telephone", "movie", "music", "video", "novel",
	"cookbook", "baike", "news", "tv", "app", "instruction",
	"tv_instruction", "car_instruction", "website", "search",
}

// SemanticCoordinates pins a semantic query to a position; an openid adds
// per-user context understanding.
type SemanticCoordinates struct {
	Latitude  float64
	Longitude float64
	OpenID    string
}

// SemanticOptions scope a semantic parse. One of City or Coordinates is
// required.
type SemanticOptions struct {
	City        string
	Region      string
	Coordinates *SemanticCoordinates
	// Categories defaults to every known service type.
	Categories []string
}

// SemanticParse submits query to the semantic understanding endpoint and
// returns the raw parse result. Parse failures surface as SemanticError
// carrying the query.
func (c *Client) SemanticParse(ctx context.Context, query string, opts SemanticOptions) (gjson.Result, error) {
	if opts.City == "" && opts.Coordinates == nil {
		return gjson.Result{}, errors.New("semantic parse: one of City and Coordinates must be set")
	}
	categories := opts.Categories
	if len(categories) == 0 {
		categories = defaultSemanticCategories
	}

	body := map[string]any{
		"query":    query,
		"category": strings.Join(categories, ","),
		"appid":    c.appID,
	}
	if opts.City != "" {
		body["city"] = opts.City
	}
	if opts.Coordinates != nil {
		body["latitude"] = opts.Coordinates.Latitude
		body["longitude"] = opts.Coordinates.Longitude
		if opts.Coordinates.OpenID != "" {
			body["uid"] = opts.Coordinates.OpenID
		}
	}
	if opts.Region != "" {
		body["region"] = opts.Region
	}
	return c.Call(ctx, "semantic", http.MethodPost, nil, body)
}
