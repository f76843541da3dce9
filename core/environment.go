package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultEnvironmentQuery looks up a server's environment label in the
// inventory store's instance overview. @p1 is the requested server name.
const DefaultEnvironmentQuery = `SELECT TOP (1) EnvironmentName
FROM dbo.vw_InstanceOverview
WHERE InstanceName = @p1 OR ServerName = @p1`

// EnvironmentResolver resolves a server name to its environment label.
type EnvironmentResolver interface {
	Resolve(ctx context.Context, server string) (string, error)
}

// InventoryConfig locates the inventory store.
type InventoryConfig struct {
	Server           string
	Database         string
	EnvironmentQuery string
}

// Classifier resolves environment labels from the inventory store. It
// opens one connection per lookup.
type Classifier struct {
	opener Opener
	conf   InventoryConfig
}

func NewClassifier(opener Opener, conf InventoryConfig) *Classifier {
	if conf.EnvironmentQuery == "" {
		conf.EnvironmentQuery = DefaultEnvironmentQuery
	}
	return &Classifier{opener: opener, conf: conf}
}

// Resolve returns the environment label for server. It returns
// ErrEnvironmentNotFound when the inventory has no matching row and
// ErrInventoryUnavailable when the lookup itself fails.
func (c *Classifier) Resolve(ctx context.Context, server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", newError(ErrInvalidRequest, nil, "Server name is required")
	}
	if c.conf.Server == "" {
		return "", newError(ErrInventoryUnavailable, nil, "Inventory server is not configured")
	}

	sess, err := c.opener.Open(ctx, c.conf.Server, c.conf.Database)
	if err != nil {
		return "", newError(ErrInventoryUnavailable, err,
			"Unable to reach inventory server '%s': %s", c.conf.Server, ErrorMessage(err))
	}
	defer sess.Close() //nolint:errcheck

	sets, err := sess.Query(ctx, c.conf.EnvironmentQuery, nil, server)
	if err != nil {
		return "", newError(ErrInventoryUnavailable, err,
			"Environment lookup failed: %s", ErrorMessage(classifyError(ErrInventoryUnavailable, err)))
	}

	for _, rs := range sets {
		for _, row := range rs.Rows {
			vals := row.Values()
			if len(vals) == 0 || vals[0] == nil {
				continue
			}
			if label := strings.TrimSpace(fmt.Sprint(vals[0])); label != "" {
				return label, nil
			}
		}
	}
	return "", newError(ErrEnvironmentNotFound, nil, "Server '%s' not found in inventory", server)
}

// productionLabels is a case-insensitive set of labels that block
// statement execution.
type productionLabels map[string]bool

func newProductionLabels(labels []string) productionLabels {
	if len(labels) == 0 {
		labels = []string{"PROD"}
	}
	pl := make(productionLabels, len(labels))
	for _, l := range labels {
		pl[strings.ToUpper(strings.TrimSpace(l))] = true
	}
	return pl
}

func (pl productionLabels) has(label string) bool {
	return pl[strings.ToUpper(strings.TrimSpace(label))]
}

// guard decides whether statements may run against server. Lookup failures
// fail closed; unregistered servers pass unless RequireRegistered is set.
func (c *Console) guard(ctx context.Context, server string) error {
	label, err := c.resolve(ctx, server)
	switch {
	case err == nil:
		if c.prodLabels.has(label) {
			return newError(ErrProductionBlocked, nil, "%s", ErrProductionBlocked.Error())
		}
		return nil
	case errors.Is(err, ErrEnvironmentNotFound) && !c.conf.RequireRegistered:
		c.log.Debugf("server %s not in inventory, allowing", server)
		return nil
	default:
		return err
	}
}

// resolve looks up the label of server. The lookup gets its own query
// timeout so a hung inventory cannot hold the caller past it.
func (c *Console) resolve(ctx context.Context, server string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.QueryTimeout)
	defer cancel()
	return c.env.Resolve(ctx, server)
}
