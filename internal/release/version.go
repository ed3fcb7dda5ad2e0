package release

import (
	"context"
	"errors"

	version "github.com/hashicorp/go-version"
)

// NoVersion stands for "nothing installed" and "could not reach the server".
const NoVersion = "v0.0.0"

// Newer reports whether remote is a strictly higher version than local.
// A leading "v" is accepted. An unparsable local version counts as older
// than anything; an unparsable remote is never newer.
func Newer(remote, local string) bool {
	rv, err := version.NewVersion(remote)
	if err != nil {
		return false
	}
	lv, err := version.NewVersion(local)
	if err != nil {
		return true
	}
	return rv.GreaterThan(lv)
}

// Update is the result of comparing the installed firmware with the latest
// release.
type Update struct {
	Local     string `json:"local"`
	Remote    string `json:"remote"`
	Available bool   `json:"available"`
	Offline   bool   `json:"offline"`
	Err       error  `json:"-"`
}

// VersionSource reports the latest published version. *Client implements it.
type VersionSource interface {
	LatestVersion(ctx context.Context) (string, error)
}

// CheckUpdate compares local against the latest release. An unreachable
// server is not an error: Offline is set and Remote is NoVersion.
func CheckUpdate(ctx context.Context, c VersionSource, local string) Update {
	u := Update{Local: local, Remote: NoVersion}
	if u.Local == "" {
		u.Local = NoVersion
	}

	remote, err := c.LatestVersion(ctx)
	switch {
	case errors.Is(err, ErrNetworkUnavailable):
		u.Offline = true
		return u
	case err != nil:
		u.Err = err
		return u
	}

	u.Remote = remote
	u.Available = Newer(remote, u.Local)
	return u
}
