// Package retriever implements the Upstream Retriever: a bounded pool
// of outbound SSLv3 clients that talk to the real Mass Effect 3
// servers on behalf of this one, resolving Origin tokens into player
// identities and optionally importing persistent data.
//
// The SSLv3 client role is the same internal/sslv3 machinery the
// Redirector and Session Engine use server-side, run in reverse: the
// upstream is known-expired and self-signed in the wild, so certificate
// verification is intentionally skipped (spec.md §4.3: "the client path
// performs certificate processing but does not validate").
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pocketrelay/pocketrelay/internal/blaze/packet"
	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoerr"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
	"github.com/pocketrelay/pocketrelay/internal/sslv3"
)

var (
	tagAddr  = tagcodec.MustTag("ADDR")
	tagHost  = tagcodec.MustTag("HOST")
	tagPort  = tagcodec.MustTag("PORT")
	tagAuth  = tagcodec.MustTag("AUTH")
	tagPID   = tagcodec.MustTag("PID ")
	tagDisp  = tagcodec.MustTag("DSNM")
	tagUID   = tagcodec.MustTag("UID ")
)

// requestTimeout bounds every upstream round trip (spec.md §5:
// "upstream retriever calls bounded to 10 s per request").
const requestTimeout = 10 * time.Second

// Config carries the upstream redirector address and the feature
// toggles that decide whether this retriever runs at all and whether
// it imports player data on Origin login.
type Config struct {
	// RedirectorAddr is host:port of the upstream redirector, e.g.
	// "gosredirector.ea.com:42127".
	RedirectorAddr string
	// MaxConcurrent bounds the number of simultaneous upstream
	// connections (pool fan-out, grounded on errgroup.SetLimit usage
	// elsewhere in this module).
	MaxConcurrent int
	// FetchPlayerData enables the optional persistent-data import on
	// Origin login.
	FetchPlayerData bool
}

// Retriever is the Upstream Retriever collaborator named by spec.md
// §4.9: it implements session.OriginResolver.
type Retriever struct {
	cfg Config
	sem chan struct{}
}

// New returns a Retriever bounded to cfg.MaxConcurrent simultaneous
// upstream connections (at least 1).
func New(cfg Config) *Retriever {
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	return &Retriever{cfg: cfg, sem: make(chan struct{}, limit)}
}

// PlayerData is the optional persistent-data blob imported from the
// upstream on Origin login.
type PlayerData map[string]string

// ResolveOriginToken trades an Origin SSO token for the player identity
// behind it, implementing session.OriginResolver. Failures of any kind
// become a fail-soft protoerr.UpstreamUnavailable (spec.md §4.9:
// "Retrieval is fail-soft").
func (r *Retriever) ResolveOriginToken(ctx context.Context, token string) (originID, displayName string, err error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return "", "", protoerr.UpstreamUnavailable(ctx.Err())
	}

	mainAddr, err := r.resolveMainServer(ctx)
	if err != nil {
		return "", "", protoerr.UpstreamUnavailable(fmt.Errorf("resolving upstream main server: %w", err))
	}

	conn, err := r.dial(ctx, mainAddr)
	if err != nil {
		return "", "", protoerr.UpstreamUnavailable(fmt.Errorf("dialing upstream main server: %w", err))
	}
	defer conn.Close()

	req := &tagcodec.Group{}
	req.Set(tagAuth, tagcodec.Str(token))
	resp, err := roundTrip(conn, protoids.ComponentAuthentication, protoids.CommandAuthOriginLogin, req)
	if err != nil {
		return "", "", protoerr.UpstreamUnavailable(fmt.Errorf("origin login round trip: %w", err))
	}

	pid, _ := resp.Get(tagPID)
	disp, _ := resp.Get(tagDisp)
	pidVal, ok := pid.(tagcodec.VarInt)
	if !ok {
		return "", "", protoerr.UpstreamUnavailable(errors.New("origin login response missing player id"))
	}
	dispVal, _ := disp.(tagcodec.Str)

	slog.Info("retriever: resolved origin token", "playerId", int64(pidVal))
	return fmt.Sprintf("%d", int64(pidVal)), string(dispVal), nil
}

// FetchPlayerData imports a player's persistent data blob from the
// upstream. The Origin login handler calls it on every Origin login
// while the import is enabled, not only on an account's first login.
// Returns nil, nil if the retriever was not configured to fetch data.
func (r *Retriever) FetchPlayerData(ctx context.Context, originID string) (PlayerData, error) {
	if !r.cfg.FetchPlayerData {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, protoerr.UpstreamUnavailable(ctx.Err())
	}

	mainAddr, err := r.resolveMainServer(ctx)
	if err != nil {
		return nil, protoerr.UpstreamUnavailable(fmt.Errorf("resolving upstream main server: %w", err))
	}
	conn, err := r.dial(ctx, mainAddr)
	if err != nil {
		return nil, protoerr.UpstreamUnavailable(fmt.Errorf("dialing upstream main server: %w", err))
	}
	defer conn.Close()

	req := &tagcodec.Group{}
	req.Set(tagUID, tagcodec.Str(originID))
	resp, err := roundTrip(conn, protoids.ComponentUtil, protoids.CommandUtilFetchClientConfig, req)
	if err != nil {
		return nil, protoerr.UpstreamUnavailable(fmt.Errorf("fetch player data round trip: %w", err))
	}

	data := make(PlayerData)
	for _, f := range resp.Fields {
		if s, ok := f.Value.(tagcodec.Str); ok {
			data[f.Tag.String()] = string(s)
		}
	}
	return data, nil
}

// resolveMainServer performs a one-off redirector round trip against
// the upstream, returning the host:port it hands back.
func (r *Retriever) resolveMainServer(ctx context.Context) (string, error) {
	conn, err := r.dial(ctx, r.cfg.RedirectorAddr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	req := &tagcodec.Group{}
	resp, err := roundTrip(conn, protoids.ComponentRedirector, protoids.CommandRedirectorGetServerInstance, req)
	if err != nil {
		return "", err
	}

	addrVal, ok := resp.Get(tagAddr)
	if !ok {
		return "", errors.New("redirector response missing ADDR")
	}
	addr, ok := addrVal.(*tagcodec.Group)
	if !ok {
		return "", errors.New("redirector ADDR field has wrong type")
	}
	hostVal, _ := addr.Get(tagHost)
	portVal, _ := addr.Get(tagPort)
	host, ok := hostVal.(tagcodec.Str)
	if !ok {
		return "", errors.New("redirector response missing HOST")
	}
	port, ok := portVal.(tagcodec.VarInt)
	if !ok {
		return "", errors.New("redirector response missing PORT")
	}
	return net.JoinHostPort(string(host), fmt.Sprintf("%d", int64(port))), nil
}

// dial opens a TCP connection and runs the SSLv3 client handshake
// against addr, skipping certificate validation per spec.md §4.3.
func (r *Retriever) dial(ctx context.Context, addr string) (*sslv3.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	clientRandom, err := sslv3.NewRandom()
	if err != nil {
		nc.Close()
		return nil, err
	}

	type result struct {
		conn *sslv3.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		// The upstream's certificate is known-expired in the wild and
		// this client is scoped to game-protocol compatibility only
		// (spec.md §4.3), so it never validates the leaf it's given.
		conn, err := sslv3.ClientHandshake(nc, clientRandom, nil)
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			nc.Close()
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		nc.Close()
		return nil, ctx.Err()
	}
}

// roundTrip writes a single request packet and reads back the matching
// response body.
func roundTrip(conn *sslv3.Conn, component protoids.Component, command protoids.Command, body *tagcodec.Group) (*tagcodec.Group, error) {
	req := &packet.Packet{
		Header: packet.Header{
			Component: uint16(component),
			Command:   uint16(command),
			Type:      packet.TypeRequest,
			MessageID: 1,
		},
		Body: tagcodec.Encode(body),
	}
	if err := packet.Write(conn, req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	reader := packet.NewReader()
	buf := make([]byte, 4096)
	for {
		pkt, err := reader.Next()
		if err == nil {
			if protoids.ErrCode(pkt.Header.Error) != protoids.ErrNone {
				return nil, fmt.Errorf("upstream replied error code %d", pkt.Header.Error)
			}
			return tagcodec.Decode(pkt.Body)
		}
		if !errors.Is(err, packet.ErrIncomplete) {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		reader.Feed(buf[:n])
	}
}

// Pool fans concurrent ResolveOriginToken calls out under an
// errgroup.Group, bounding total in-flight upstream requests to
// cfg.MaxConcurrent (spec.md §5: "one background task per outstanding
// upstream query"). Callers that already serialize their own requests
// do not need this; it exists for batch import tooling.
func (r *Retriever) Pool(ctx context.Context, tokens []string, fn func(ctx context.Context, originID, displayName string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(r.sem))
	for _, token := range tokens {
		token := token
		g.Go(func() error {
			originID, displayName, err := r.ResolveOriginToken(ctx, token)
			if err != nil {
				slog.Warn("retriever: pool resolve failed", "error", err)
				return nil
			}
			return fn(ctx, originID, displayName)
		})
	}
	return g.Wait()
}
