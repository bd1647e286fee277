package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// Authorization is a bearer token scoped to one repository.
type Authorization struct {
	Token string
	Scope string
}

// Manifest is the minimal manifest shape the client exchanges.
type Manifest struct {
	SchemaVersion int                `json:"schemaVersion"`
	MediaType     string             `json:"mediaType"`
	Config        image.Descriptor   `json:"config"`
	Layers        []image.Descriptor `json:"layers"`
}

// MediaTypeManifest is the manifest media type the client speaks.
const MediaTypeManifest = "application/vnd.oci.image.manifest.v1+json"

// Client talks to one repository of one registry.
type Client struct {
	registryHost string
	repository   string
	scheme       string
	httpClient   *http.Client
}

// NewClient creates a client for the given registry host and repository.
func NewClient(registryHost, repository string, insecure bool) *Client {
	scheme := "https"
	if insecure {
		scheme = "http"
	}
	return &Client{
		registryHost: registryHost,
		repository:   repository,
		scheme:       scheme,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Authenticate obtains a bearer token for the given scope action ("pull" or
// "pull,push"). Registries without token auth yield an empty authorization.
func (c *Client) Authenticate(ctx context.Context, cred Credential, actions string) (Authorization, error) {
	probe, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s://%s/v2/", c.scheme, c.registryHost), nil)
	if err != nil {
		return Authorization{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, "build auth probe")
	}
	resp, err := c.httpClient.Do(probe)
	if err != nil {
		return Authorization{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, "probe registry auth")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		return Authorization{Scope: actions}, nil
	}

	realm, service := parseBearerChallenge(resp.Header.Get("WWW-Authenticate"))
	if realm == "" {
		return Authorization{}, kilnerr.New(kilnerr.CategoryAuth, "registry requires auth but sent no bearer challenge")
	}

	scope := fmt.Sprintf("repository:%s:%s", c.repository, actions)
	tokenURL := fmt.Sprintf("%s?service=%s&scope=%s", realm, url.QueryEscape(service), url.QueryEscape(scope))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return Authorization{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, "build token request")
	}
	if !cred.Anonymous() {
		req.SetBasicAuth(cred.Username, cred.Password)
	}

	tokenResp, err := c.httpClient.Do(req)
	if err != nil {
		return Authorization{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, "request token")
	}
	defer tokenResp.Body.Close()
	if tokenResp.StatusCode != http.StatusOK {
		return Authorization{}, kilnerr.Newf(kilnerr.CategoryAuth, "token endpoint returned %s", tokenResp.Status)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&body); err != nil {
		return Authorization{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, "decode token response")
	}
	token := body.Token
	if token == "" {
		token = body.AccessToken
	}
	return Authorization{Token: token, Scope: scope}, nil
}

// BlobExists checks whether the repository already has the blob.
func (c *Client) BlobExists(ctx context.Context, auth Authorization, digest image.Digest) (bool, error) {
	req, err := c.newRequest(ctx, auth, http.MethodHead, fmt.Sprintf("/blobs/%s", digest), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "check blob existence")
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// PushBlob uploads a blob, skipping the upload when the registry already has
// it. Returns the blob's descriptor.
func (c *Client) PushBlob(ctx context.Context, auth Authorization, desc image.Descriptor, content io.Reader) (image.Descriptor, error) {
	exists, err := c.BlobExists(ctx, auth, desc.Digest)
	if err != nil {
		return image.Descriptor{}, err
	}
	if exists {
		return desc, nil
	}

	req, err := c.newRequest(ctx, auth, http.MethodPost, "/blobs/uploads/", nil)
	if err != nil {
		return image.Descriptor{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return image.Descriptor{}, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "start blob upload")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return image.Descriptor{}, kilnerr.Newf(kilnerr.CategoryRegistry, "blob upload start returned %s", resp.Status)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return image.Descriptor{}, kilnerr.New(kilnerr.CategoryRegistry, "blob upload start returned no location")
	}
	uploadURL := c.resolve(location)
	sep := "?"
	if strings.Contains(uploadURL, "?") {
		sep = "&"
	}
	put, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL+sep+"digest="+url.QueryEscape(string(desc.Digest)), content)
	if err != nil {
		return image.Descriptor{}, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "build blob upload")
	}
	c.applyAuth(put, auth)
	put.Header.Set("Content-Type", "application/octet-stream")
	put.ContentLength = desc.Size

	putResp, err := c.httpClient.Do(put)
	if err != nil {
		return image.Descriptor{}, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "upload blob")
	}
	io.Copy(io.Discard, putResp.Body)
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusCreated {
		return image.Descriptor{}, kilnerr.Newf(kilnerr.CategoryRegistry, "blob upload returned %s", putResp.Status)
	}
	return desc, nil
}

// PushManifest uploads a manifest under the given tag and returns its digest.
func (c *Client) PushManifest(ctx context.Context, auth Authorization, tag string, manifest Manifest) (image.Digest, error) {
	body, err := json.Marshal(manifest)
	if err != nil {
		return "", kilnerr.Wrap(err, kilnerr.CategoryRegistry, "encode manifest")
	}

	req, err := c.newRequest(ctx, auth, http.MethodPut, "/manifests/"+tag, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", MediaTypeManifest)
	req.ContentLength = int64(len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", kilnerr.Wrap(err, kilnerr.CategoryRegistry, "push manifest")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", kilnerr.Newf(kilnerr.CategoryRegistry, "manifest push for tag %q returned %s", tag, resp.Status)
	}
	if d := resp.Header.Get("Docker-Content-Digest"); d != "" {
		return image.Digest(d), nil
	}
	return image.NewDigest(body), nil
}

// FetchManifest retrieves the manifest for the given tag or digest reference.
func (c *Client) FetchManifest(ctx context.Context, auth Authorization, reference string) (Manifest, error) {
	req, err := c.newRequest(ctx, auth, http.MethodGet, "/manifests/"+reference, nil)
	if err != nil {
		return Manifest{}, err
	}
	req.Header.Set("Accept", MediaTypeManifest)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Manifest{}, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "fetch manifest")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Manifest{}, kilnerr.Newf(kilnerr.CategoryRegistry, "manifest fetch for %q returned %s", reference, resp.Status)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Manifest{}, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "decode manifest")
	}
	return m, nil
}

// FetchBlob streams a blob's content. The caller owns the returned reader.
func (c *Client) FetchBlob(ctx context.Context, auth Authorization, digest image.Digest) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, auth, http.MethodGet, "/blobs/"+string(digest), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "fetch blob")
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, kilnerr.Newf(kilnerr.CategoryRegistry, "blob fetch for %s returned %s", digest, resp.Status)
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, auth Authorization, method, path string, body io.Reader) (*http.Request, error) {
	u := fmt.Sprintf("%s://%s/v2/%s%s", c.scheme, c.registryHost, c.repository, path)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "build registry request")
	}
	c.applyAuth(req, auth)
	return req, nil
}

func (c *Client) applyAuth(req *http.Request, auth Authorization) {
	if auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
}

func (c *Client) resolve(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	return fmt.Sprintf("%s://%s%s", c.scheme, c.registryHost, location)
}

func parseBearerChallenge(header string) (realm, service string) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ""
	}
	for _, part := range strings.Split(strings.TrimPrefix(header, "Bearer "), ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "realm":
			realm = value
		case "service":
			service = value
		}
	}
	return realm, service
}
