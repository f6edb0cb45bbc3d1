package encoder

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	rtmp "github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"livecast/internal/domain"
)

// probeIngest performs an RTMP handshake and connect against the ingest so
// an unreachable endpoint fails before any process is started.
func probeIngest(ctx context.Context, endpoint *url.URL, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		conn *rtmp.ClientConn
		err  error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := dialIngest(endpoint)
		if err != nil {
			done <- result{err: err}
			return
		}
		app := strings.Trim(endpoint.Path, "/")
		err = conn.Connect(&rtmpmsg.NetConnectionConnect{
			Command: rtmpmsg.NetConnectionConnectCommand{
				App:   app,
				Type:  "nonprivate",
				TCURL: endpoint.Scheme + "://" + endpoint.Host + "/" + app,
			},
		})
		done <- result{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.conn != nil {
			_ = res.conn.Close()
		}
		if res.err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrIngestUnreachable, endpoint.Host, res.err)
		}
		return nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return fmt.Errorf("%w: %s: %v", domain.ErrIngestUnreachable, endpoint.Host, ctx.Err())
	}
}

func dialIngest(endpoint *url.URL) (*rtmp.ClientConn, error) {
	if endpoint.Scheme == "rtmps" {
		return rtmp.TLSDial("rtmp", endpoint.Host, &rtmp.ConnConfig{}, &tls.Config{ServerName: endpoint.Hostname()})
	}
	return rtmp.Dial("rtmp", endpoint.Host, &rtmp.ConnConfig{})
}
