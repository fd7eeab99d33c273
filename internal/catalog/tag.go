package catalog

import (
	"context"
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/index"
)

// DefaultRegistry is assumed for tags without a registry part.
const DefaultRegistry = "https://hub.dronedb.app"

// Tag is a parsed dataset tag: [scheme://host[:port]/ | host/]namespace/dataset
type Tag struct {
	// Registry is scheme://host[:port] or "" when the tag names none
	Registry  string
	Namespace string
	Dataset   string
}

func (t Tag) String() string {
	s := t.Namespace + "/" + t.Dataset
	if t.Registry != "" {
		s = t.Registry + "/" + s
	}
	return s
}

// RegistryURL returns the registry, falling back to DefaultRegistry.
func (t Tag) RegistryURL() string {
	if t.Registry == "" {
		return DefaultRegistry
	}
	return t.Registry
}

var (
	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	schemePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*$`)
	hostPattern    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)
)

// ParseTag validates and splits a tag.
func ParseTag(tag string) (Tag, error) {
	const op = "tag"
	invalid := func(msg string) (Tag, error) {
		return Tag{}, domain.E(domain.KindValidation, op, "", "invalid tag "+strconv.Quote(tag)+": "+msg)
	}
	if tag == "" {
		return invalid("empty")
	}
	if !utf8.ValidString(tag) {
		return invalid("not valid UTF-8")
	}

	var t Tag
	rest := tag
	scheme, afterScheme, hasScheme := strings.Cut(tag, "://")
	if hasScheme {
		if !schemePattern.MatchString(scheme) {
			return invalid("bad scheme")
		}
		rest = afterScheme
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3:
		if !validHost(parts[0]) {
			return invalid("bad registry host")
		}
		t.Registry = parts[0]
		if hasScheme {
			t.Registry = scheme + "://" + parts[0]
		}
		parts = parts[1:]
	case len(parts) == 2 && !hasScheme:
	default:
		return invalid("expected [registry/]namespace/dataset")
	}

	for _, p := range parts {
		if !segmentPattern.MatchString(p) {
			return invalid("bad segment " + strconv.Quote(p))
		}
	}
	t.Namespace, t.Dataset = parts[0], parts[1]
	return t, nil
}

func validHost(hostport string) bool {
	host := hostport
	if h, port, err := net.SplitHostPort(hostport); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return false
		}
		host = h
	}
	return hostPattern.MatchString(host)
}

// GetTag returns the catalog tag, "" when unset.
func (c *Catalog) GetTag(ctx context.Context) (string, error) {
	const op = "tag get"
	var tag string
	err := c.read(ctx, op, func(s *index.Store) error {
		var err error
		if tag, _, err = s.GetAttribute(ctx, index.AttrTag); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	return tag, err
}

// SetTag validates and stores the catalog tag.
func (c *Catalog) SetTag(ctx context.Context, tag string) error {
	const op = "tag set"
	if err := c.check(op); err != nil {
		return err
	}
	if _, err := ParseTag(tag); err != nil {
		return err
	}
	return c.write(ctx, op, func(tx *index.Tx) error {
		if err := tx.SetAttribute(ctx, index.AttrTag, tag); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
}
