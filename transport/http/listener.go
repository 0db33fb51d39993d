package http

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/gofiber/fiber/v3"
)

// createListener 根据 ListenConfig 创建 net.Listener
// 配置了证书时返回 TLS listener
func createListener(addr string, config fiber.ListenConfig) (net.Listener, error) {
	network := config.ListenerNetwork
	if network == "" {
		network = "tcp4"
	}

	if config.CertFile == "" || config.CertKeyFile == "" {
		return net.Listen(network, addr)
	}

	cert, err := tls.LoadX509KeyPair(config.CertFile, config.CertKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if config.TLSMinVersion > 0 {
		tlsConfig.MinVersion = config.TLSMinVersion
	}
	return tls.Listen(network, addr, tlsConfig)
}
