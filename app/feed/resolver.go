package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) TenderComb/1.0"
	DefaultTimeout   = 60 * time.Second
	MaxResponseSize  = 10 << 20

	cacheBustParam = "_cb"
	feedAccept     = "application/atom+xml, application/rss+xml, application/xml, text/xml, application/json"
	acceptLanguage = "es-ES,es;q=0.9,en;q=0.8"
)

// Attempt is one tried URL variant and why it was rejected.
type Attempt struct {
	URL    string
	Reason string
}

// FetchFailure reports that no URL variant yielded valid feed content.
type FetchFailure struct {
	Source   string
	Attempts []Attempt
}

func (f *FetchFailure) Error() string {
	reason := "no variants"
	if len(f.Attempts) > 0 {
		reason = "last: " + f.Attempts[len(f.Attempts)-1].Reason
	}
	return fmt.Sprintf("failed to fetch source %s after %d attempts (%s)", f.Source, len(f.Attempts), reason)
}

// Resolver fetches a source by trying URL variants until one serves real
// feed bytes. It holds no state across calls.
type Resolver struct {
	httpClient *http.Client
	parser     *Parser
	userAgent  string
	proxyURL   string
}

func NewResolver(httpClient *http.Client, parser *Parser, userAgent, proxyURL string) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if parser == nil {
		parser = NewParser()
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Resolver{
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
		proxyURL:   proxyURL,
	}
}

// Variants returns the ordered, deduplicated URL candidates for rawURL:
// cache-busted original, scheme toggled, host toggled (times scheme), then
// every one of those through the proxy when proxyURL is set.
func Variants(rawURL, proxyURL string, stamp int64) []string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return []string{rawURL}
	}
	u.Fragment = ""

	busted := *u
	if busted.RawQuery == "" {
		busted.RawQuery = cacheBustParam + "=" + strconv.FormatInt(stamp, 10)
	} else {
		busted.RawQuery += "&" + cacheBustParam + "=" + strconv.FormatInt(stamp, 10)
	}

	hosts := []string{busted.Host}
	if toggled := toggleHost(busted.Host); toggled != "" {
		hosts = append(hosts, toggled)
	}
	schemes := []string{busted.Scheme, toggleScheme(busted.Scheme)}

	var direct []string
	for _, host := range hosts {
		for _, scheme := range schemes {
			if scheme == "" {
				continue
			}
			v := busted
			v.Host = host
			v.Scheme = scheme
			direct = append(direct, v.String())
		}
	}

	all := direct
	if proxyURL != "" {
		for _, d := range direct {
			all = append(all, proxyURL+d)
		}
	}

	seen := make(map[string]bool, len(all))
	variants := make([]string, 0, len(all))
	for _, v := range all {
		if seen[v] {
			continue
		}
		seen[v] = true
		variants = append(variants, v)
	}
	return variants
}

func toggleScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https":
		return "http"
	case "http":
		return "https"
	default:
		return ""
	}
}

// toggleHost adds or removes a leading "www.". IP literals and dotless hosts
// are not toggled.
func toggleHost(hostport string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, ""
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return ""
	}

	var toggled string
	if rest, ok := strings.CutPrefix(strings.ToLower(host), "www."); ok {
		if !strings.Contains(rest, ".") {
			return ""
		}
		toggled = host[len("www."):]
	} else {
		toggled = "www." + host
	}

	if port != "" {
		return net.JoinHostPort(toggled, port)
	}
	return toggled
}

// Resolve returns the body of the first variant that passes validation.
func (r *Resolver) Resolve(ctx context.Context, source *Source) ([]byte, error) {
	timeout := DefaultTimeout
	if source.Settings.Timeout > 0 {
		timeout = time.Duration(source.Settings.Timeout) * time.Second
	}

	failure := &FetchFailure{Source: source.Code}
	referer := origin(source.URL)

	for _, candidate := range Variants(source.URL, r.proxyURL, time.Now().UnixNano()) {
		if err := ctx.Err(); err != nil {
			failure.Attempts = append(failure.Attempts, Attempt{URL: candidate, Reason: err.Error()})
			return nil, failure
		}

		data, reason := r.try(ctx, candidate, referer, timeout, source.Kind)
		if reason != "" {
			slog.Debug("Fetch attempt rejected", "source", source.Code, "url", candidate, "reason", reason)
			failure.Attempts = append(failure.Attempts, Attempt{URL: candidate, Reason: reason})
			continue
		}

		slog.Debug("Fetch attempt accepted", "source", source.Code, "url", candidate, "bytes", len(data))
		return data, nil
	}

	return nil, failure
}

// try fetches one candidate; a non-empty reason means it was rejected.
func (r *Resolver) try(ctx context.Context, candidate, referer string, timeout time.Duration, kind Kind) ([]byte, string) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, candidate, nil)
	if err != nil {
		return nil, fmt.Sprintf("invalid request: %v", err)
	}

	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", feedAccept)
	req.Header.Set("Accept-Language", acceptLanguage)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Sprintf("transport error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Sprintf("HTTP error: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Sprintf("failed to read response body: %v", err)
	}
	if len(data) > MaxResponseSize {
		return nil, "response exceeds size limit"
	}

	if reason := r.validate(data, kind); reason != "" {
		return nil, reason
	}
	return data, ""
}

func (r *Resolver) validate(data []byte, kind Kind) string {
	if len(strings.TrimSpace(string(data))) == 0 {
		return "empty body"
	}

	sniffed := Sniff(data)
	switch {
	case sniffed == SniffHTML:
		return "HTML document instead of feed"
	case kind.IsXML() && sniffed == SniffJSON:
		return "JSON envelope instead of XML feed"
	case kind == KindJSON && sniffed != SniffJSON:
		return "non-JSON payload"
	}

	if _, err := r.parser.Run(data, kind); err != nil {
		var parseFailure *ParseFailure
		if errors.As(err, &parseFailure) {
			return parseFailure.Error()
		}
		return err.Error()
	}
	return ""
}

func origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
