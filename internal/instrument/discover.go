package instrument

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/serialport"
)

// probeTimeout bounds the serial-number query sent to each candidate port.
const probeTimeout = 2 * time.Second

// Discover probes every serial port reported by factory and returns a client
// for the first instrument whose serial number matches serial. An empty
// serial accepts the first port that answers at all.
func Discover(ctx context.Context, factory serialport.Factory, serial string, opts serialport.PortOptions, timeout time.Duration) (*Client, string, error) {
	ports, err := factory.List()
	if err != nil {
		return nil, "", fmt.Errorf("list serial ports: %w", err)
	}

	for _, path := range ports {
		c, err := Open(factory, path, opts, probeTimeout)
		if err != nil {
			monitoring.Debugf("instrument: skip %s: %v", path, err)
			continue
		}
		sn, err := c.SerialNumber(ctx)
		if err != nil || (serial != "" && !strings.EqualFold(sn, serial)) {
			monitoring.Debugf("instrument: %s answered %q (%v)", path, sn, err)
			c.Close()
			continue
		}
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.timeout = timeout
		monitoring.Logf("instrument: found SN %s on %s", sn, path)
		return c, path, nil
	}

	if serial != "" {
		return nil, "", fmt.Errorf("%w: no instrument with serial number %s on %d ports", ErrNotFound, serial, len(ports))
	}
	return nil, "", fmt.Errorf("%w: no instrument answered on %d ports", ErrNotFound, len(ports))
}
