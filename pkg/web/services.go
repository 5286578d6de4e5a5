package web

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/openfroyo/webplane/pkg/services"
)

// DefaultLogDirPath is the path the access log directory is relative to
// unless configured otherwise.
const DefaultLogDirPath = "server.log.dir"

// ServerName is the service of the subsystem itself. Every connector, host
// and valve depends on it.
var ServerName = services.NewName("web")

// ConnectorName names the service of a connector.
func ConnectorName(name string) services.Name { return ServerName.Append("connector", name) }

// HostName names the service of a virtual server.
func HostName(name string) services.Name { return ServerName.Append("host", name) }

// ValveName names the service of a global valve.
func ValveName(name string) services.Name { return ServerName.Append("valve", name) }

// SocketBindingName names an externally provided socket binding.
func SocketBindingName(name string) services.Name { return services.NewName("socket-binding", name) }

// PathName names an externally provided filesystem path.
func PathName(name string) services.Name { return services.NewName("path", name) }

// SocketBinding is the value of a socket binding service.
type SocketBinding struct {
	Name string
	Host string
	Port int
}

// Address returns host:port.
func (b SocketBinding) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// ParseSocketBinding reads "host:port".
func ParseSocketBinding(name, addr string) (SocketBinding, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return SocketBinding{}, fmt.Errorf("invalid socket binding %s: %w", name, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return SocketBinding{}, fmt.Errorf("invalid socket binding %s: bad port %q", name, port)
	}
	return SocketBinding{Name: name, Host: host, Port: p}, nil
}

// InstallSocketBinding installs an always-up service providing b.
func InstallSocketBinding(reg *services.Registry, b SocketBinding) error {
	_, err := reg.Install(services.Descriptor{
		Name:        SocketBindingName(b.Name),
		Description: "socket binding " + b.Address(),
		Start:       func(*services.StartContext) (any, error) { return b, nil },
	})
	return err
}

// InstallPath installs an always-up service providing the directory dir.
func InstallPath(reg *services.Registry, name, dir string) error {
	clean := filepath.Clean(dir)
	_, err := reg.Install(services.Descriptor{
		Name:        PathName(name),
		Description: "path " + clean,
		Start:       func(*services.StartContext) (any, error) { return clean, nil },
	})
	return err
}
