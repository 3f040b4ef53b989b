package dedup

import (
	"net/url"
	"strings"

	"herald/internal/content"
)

// NormalizeURL collapses all known link variants for the same content
// into one canonical string used as a cache key.
//
// It is a pure function: no side effects, same input always yields the
// same output. Unparseable input is returned trimmed but otherwise
// untouched so it can still serve as an opaque key.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "mobile.")

	switch {
	case host == "youtu.be":
		if id := firstPathSegment(u.Path); id != "" {
			return youtubeWatchURL(id)
		}
	case host == "youtube.com" || host == "youtube-nocookie.com":
		if c := normalizeYouTube(u); c != "" {
			return c
		}
	case host == "twitter.com" || host == "x.com" ||
		host == "vxtwitter.com" || host == "fxtwitter.com" ||
		host == "fixupx.com" || host == "nitter.net":
		if c := normalizeTweet(u); c != "" {
			return c
		}
	}

	// Generic form: https scheme, cleaned host, no fragment, no
	// tracking parameters, no trailing slash.
	q := u.Query()
	for k := range q {
		if isTrackingParam(k) {
			q.Del(k)
		}
	}
	u.Scheme = "https"
	u.Host = host
	u.Fragment = ""
	u.RawQuery = q.Encode()
	return strings.TrimSuffix(u.String(), "/")
}

func normalizeYouTube(u *url.URL) string {
	path := strings.Trim(u.Path, "/")
	segs := strings.Split(path, "/")

	switch {
	case path == "watch":
		if id := u.Query().Get("v"); id != "" {
			return youtubeWatchURL(id)
		}
	case len(segs) == 2 && (segs[0] == "shorts" || segs[0] == "live" || segs[0] == "embed" || segs[0] == "v"):
		if segs[1] != "" {
			return youtubeWatchURL(segs[1])
		}
	}
	return ""
}

func normalizeTweet(u *url.URL) string {
	// /<user>/status/<id>[/photo/1 ...]
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) >= 3 && (segs[1] == "status" || segs[1] == "statuses") && segs[2] != "" {
		return tweetURL(strings.ToLower(segs[0]), segs[2])
	}
	return ""
}

func youtubeWatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func tweetURL(user, id string) string {
	return "https://twitter.com/" + user + "/status/" + id
}

// ExtractID pulls the embedded platform id out of a canonical URL, so
// marking a URL seen also marks its id seen.
func ExtractID(canonical string) (content.Platform, string, bool) {
	u, err := url.Parse(canonical)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com":
		if id := u.Query().Get("v"); id != "" {
			return content.PlatformVideo, id, true
		}
	case "twitter.com":
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) >= 3 && segs[1] == "status" && segs[2] != "" {
			return content.PlatformSocialPost, segs[2], true
		}
	}
	return "", "", false
}

func firstPathSegment(path string) string {
	for _, s := range strings.Split(strings.Trim(path, "/"), "/") {
		if s != "" {
			return s
		}
	}
	return ""
}

func isTrackingParam(k string) bool {
	k = strings.ToLower(k)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	switch k {
	case "si", "feature", "fbclid", "gclid", "igshid", "ref", "ref_src", "ref_url", "s", "t", "cxt":
		return true
	}
	return false
}
