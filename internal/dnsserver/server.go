package dnsserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/pkg/model"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// InstanceSource DNS应答的数据来源
type InstanceSource interface {
	ListActive(ctx context.Context, name string) ([]model.ServiceInstance, error)
}

// Server 定义DNS服务器接口
type Server interface {
	// Start 启动DNS服务器
	Start() error

	// Shutdown 优雅关闭DNS服务器
	Shutdown(ctx context.Context) error

	// Handler 返回DNS请求处理器
	Handler() dns.Handler
}

// DNSServer 实现Server接口，把 {name}.{domain} 解析为该服务UP实例的SRV/A记录
type DNSServer struct {
	udpServer   *dns.Server
	tcpServer   *dns.Server
	address     string
	port        int
	protocol    string
	domain      string
	ttl         uint32
	source      InstanceSource
	upstream    *Upstream
	logger      config.Logger
	shutdownErr chan error
}

// NewDNSServer 创建一个新的DNS服务器
func NewDNSServer(cfg *config.Config, source InstanceSource, logger config.Logger) Server {
	ttl := cfg.DNS.TTL
	if ttl <= 0 {
		ttl = 30
	}
	var upstream *Upstream
	if len(cfg.DNS.Upstream) > 0 {
		upstream = NewUpstream(cfg.DNS.Upstream, 5*time.Second)
	}
	return &DNSServer{
		upstream:    upstream,
		address:     cfg.DNS.ListenAddress,
		port:        cfg.DNS.Port,
		protocol:    cfg.DNS.Protocol,
		domain:      dns.Fqdn(strings.ToLower(strings.Trim(cfg.DNS.Domain, "."))),
		ttl:         uint32(ttl),
		source:      source,
		logger:      logger,
		shutdownErr: make(chan error, 2), // 用于收集UDP和TCP服务器的错误
	}
}

// Handler 返回DNS请求处理器
func (s *DNSServer) Handler() dns.Handler {
	handler := dns.NewServeMux()
	handler.HandleFunc(s.domain, s.handleDNSRequest)
	if s.domain != "." {
		handler.HandleFunc(".", s.handleOutside)
	}
	return handler
}

// Start 启动DNS服务器
func (s *DNSServer) Start() error {
	s.logger.Info("启动DNS服务器",
		zap.String("address", s.address),
		zap.Int("port", s.port),
		zap.String("protocol", s.protocol),
		zap.String("domain", s.domain))

	handler := s.Handler()
	addr := net.JoinHostPort(s.address, strconv.Itoa(s.port))

	// 根据配置启动对应协议的服务器
	switch s.protocol {
	case "udp", "":
		s.udpServer = s.serve(addr, "udp", handler)
	case "tcp":
		s.tcpServer = s.serve(addr, "tcp", handler)
	case "both":
		s.udpServer = s.serve(addr, "udp", handler)
		s.tcpServer = s.serve(addr, "tcp", handler)
	default:
		return fmt.Errorf("不支持的DNS协议: %s", s.protocol)
	}
	return nil
}

// serve 在后台启动指定协议的服务器
func (s *DNSServer) serve(addr, network string, handler dns.Handler) *dns.Server {
	server := &dns.Server{
		Addr:    addr,
		Net:     network,
		Handler: handler,
	}

	s.logger.Info("启动DNS监听", zap.String("addr", addr), zap.String("net", network))

	go func() {
		if err := server.ListenAndServe(); err != nil {
			// miekg/dns没有ErrServerClosed，关闭后返回的错误也会走到这里
			s.logger.Error("DNS服务器错误", zap.String("net", network), zap.Error(err))
			s.shutdownErr <- err
		}
	}()
	return server
}

// Shutdown 优雅关闭DNS服务器
func (s *DNSServer) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭DNS服务器...")

	for _, server := range []*dns.Server{s.udpServer, s.tcpServer} {
		if server == nil {
			continue
		}
		if err := server.ShutdownContext(ctx); err != nil {
			s.logger.Error("关闭DNS服务器出错", zap.String("net", server.Net), zap.Error(err))
			return err
		}
		s.logger.Info("DNS服务器已关闭", zap.String("net", server.Net))
	}
	return nil
}

// handleOutside 不属于服务域名的查询：配置了上游时转发，否则拒绝
func (s *DNSServer) handleOutside(w dns.ResponseWriter, r *dns.Msg) {
	if s.upstream == nil {
		s.reply(w, r, dns.RcodeRefused)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := s.upstream.Resolve(ctx, r)
	if err != nil {
		s.logger.Warn("上游DNS解析失败", zap.Error(err))
		s.reply(w, r, dns.RcodeServerFailure)
		return
	}
	if err := w.WriteMsg(resp); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}

func (s *DNSServer) reply(w dns.ResponseWriter, r *dns.Msg, rcode int) {
	m := new(dns.Msg)
	m.SetRcode(r, rcode)
	if err := w.WriteMsg(m); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}

// handleDNSRequest 处理DNS请求
func (s *DNSServer) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		s.logger.Debug("收到DNS查询",
			zap.String("name", q.Name),
			zap.String("type", dns.TypeToString[q.Qtype]),
			zap.String("client", w.RemoteAddr().String()))

		s.handleQuery(q, m)
	}

	// 所有问题都没有答案时才返回NXDOMAIN
	if len(m.Answer) == 0 {
		m.SetRcode(r, dns.RcodeNameError)
	}

	if err := w.WriteMsg(m); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}

// handleQuery 处理单个DNS查询问题
func (s *DNSServer) handleQuery(q dns.Question, m *dns.Msg) bool {
	qname := strings.ToLower(q.Name)
	name := strings.TrimSuffix(strings.TrimSuffix(qname, s.domain), ".")
	if name == "" || strings.Contains(name, ".") {
		return false
	}

	instances, err := s.source.ListActive(context.Background(), name)
	if err != nil {
		s.logger.Debug("服务没有可用实例", zap.String("service", name), zap.Error(err))
		return false
	}

	header := dns.RR_Header{Name: qname, Class: dns.ClassINET, Ttl: s.ttl}
	found := false

	switch q.Qtype {
	case dns.TypeSRV:
		header.Rrtype = dns.TypeSRV
		for _, instance := range instances {
			m.Answer = append(m.Answer, &dns.SRV{
				Hdr:      header,
				Priority: 0,
				Weight:   10,
				Port:     uint16(instance.Port),
				Target:   dns.Fqdn(instance.HostName),
			})
			found = true
		}
	case dns.TypeA:
		header.Rrtype = dns.TypeA
		for _, instance := range instances {
			ip := net.ParseIP(instance.HostName).To4()
			if ip == nil {
				continue
			}
			m.Answer = append(m.Answer, &dns.A{Hdr: header, A: ip})
			found = true
		}
	default:
		s.logger.Debug("不支持的DNS记录类型",
			zap.String("service", name),
			zap.String("type", dns.TypeToString[q.Qtype]))
	}

	return found
}
