// Package identity reads the facts describing the local machine: role, hostname, organisation
// domain, credentials and the installed image version.
package identity

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Fact names, relative to the identity directory.
const (
	FactHostType     = "hosttype"
	FactHostname     = "hostname"
	FactDomain       = "domain"
	FactLDAPDN       = "ldap/dn"
	FactLDAPPassword = "ldap/password"
)

const (
	DefaultDir       = "/etc/puavo"
	DefaultImageFile = "/etc/ltsp/this_ltspimage_name"
)

// ErrMissingFact is returned when a required fact cannot be read.
var ErrMissingFact = errors.New("identity: missing fact")

// DeviceIdentity is the immutable description of the local machine stamped onto records.
type DeviceIdentity struct {
	HostType           string
	Hostname           string
	OrganisationDomain string
	ImageVersion       string // empty when the image name file is absent
}

// Resolver reads facts from a directory of small text files. Each fact is read at most once;
// later lookups return the cached value.
type Resolver struct {
	fs        afero.Fs
	dir       string
	imageFile string

	mu        sync.Mutex
	facts     map[string]string
	image     string
	imageRead bool
}

// NewResolver returns a Resolver rooted at dir. Empty dir or imageFile select the defaults.
func NewResolver(fs afero.Fs, dir, imageFile string) *Resolver {
	if dir == "" {
		dir = DefaultDir
	}
	if imageFile == "" {
		imageFile = DefaultImageFile
	}
	return &Resolver{fs: fs, dir: dir, imageFile: imageFile, facts: make(map[string]string)}
}

// NewOSResolver returns a Resolver over the real filesystem.
func NewOSResolver(dir, imageFile string) *Resolver {
	return NewResolver(afero.NewOsFs(), dir, imageFile)
}

// Fact returns the trimmed content of the named fact file.
func (r *Resolver) Fact(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.facts[name]; ok {
		return v, nil
	}
	p := path.Join(r.dir, name)
	b, err := afero.ReadFile(r.fs, p)
	if err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrMissingFact, p, err)
	}
	v := strings.TrimSpace(string(b))
	r.facts[name] = v
	return v, nil
}

// ImageVersion returns the installed image name, or "" if the file cannot be read.
func (r *Resolver) ImageVersion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.imageRead {
		return r.image
	}
	r.imageRead = true
	b, err := afero.ReadFile(r.fs, r.imageFile)
	if err != nil {
		return ""
	}
	r.image = strings.TrimSpace(string(b))
	return r.image
}
