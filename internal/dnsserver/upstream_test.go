package dnsserver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hewenyu/kong-gateway/internal/registry"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFakeUpstream 启动一个对所有A查询都返回固定地址的DNS服务器，返回地址和查询计数
func startFakeUpstream(t *testing.T) (string, *int32) {
	t.Helper()

	var queries int32
	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		atomic.AddInt32(&queries, 1)
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
				A:   net.ParseIP("93.184.216.34"),
			})
		} else {
			m.SetRcode(r, dns.RcodeNameError)
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() {
		_ = server.ActivateAndServe()
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("上游DNS服务器启动超时")
	}
	t.Cleanup(func() {
		_ = server.Shutdown()
	})
	return pc.LocalAddr().String(), &queries
}

func startServerWithConfig(t *testing.T, upstreams []string) string {
	t.Helper()

	cfg := createTestConfig()
	cfg.DNS.Upstream = upstreams

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		Handler:           NewDNSServer(cfg, newTestRegistry(t), &MockLogger{}).Handler(),
		NotifyStartedFunc: func() { close(started) },
	}
	go func() {
		_ = server.ActivateAndServe()
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("DNS服务器启动超时")
	}
	t.Cleanup(func() {
		_ = server.Shutdown()
	})
	return pc.LocalAddr().String()
}

func TestDNSServer_ForwardsOutsideDomain(t *testing.T) {
	upstreamAddr, queries := startFakeUpstream(t)
	addr := startServerWithConfig(t, []string{upstreamAddr})

	r := query(t, addr, "example.com", dns.TypeA)
	require.Equal(t, dns.RcodeSuccess, r.Rcode)
	require.Len(t, r.Answer, 1)
	assert.Equal(t, "93.184.216.34", r.Answer[0].(*dns.A).A.String())

	// 第二次命中缓存
	r = query(t, addr, "EXAMPLE.com", dns.TypeA)
	require.Equal(t, dns.RcodeSuccess, r.Rcode)
	assert.Equal(t, int32(1), atomic.LoadInt32(queries))

	// 服务域名内的查询不会转发
	r = query(t, addr, "svc.service.local", dns.TypeSRV)
	require.Equal(t, dns.RcodeSuccess, r.Rcode)
	assert.Len(t, r.Answer, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(queries))
}

func TestDNSServer_UpstreamFailure(t *testing.T) {
	// 占用一个端口后立即关闭，查询不会有应答
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())

	cfg := createTestConfig()
	cfg.DNS.Upstream = []string{deadAddr}
	srv := NewDNSServer(cfg, registry.New(&MockLogger{}), &MockLogger{}).(*DNSServer)
	srv.upstream.client.Timeout = 100 * time.Millisecond

	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	server := &dns.Server{PacketConn: listener, Handler: srv.Handler(), NotifyStartedFunc: func() { close(started) }}
	go func() {
		_ = server.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() {
		_ = server.Shutdown()
	})

	r := query(t, listener.LocalAddr().String(), "example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeServerFailure, r.Rcode)
}

func TestUpstreamFallsBackToNextServer(t *testing.T) {
	upstreamAddr, queries := startFakeUpstream(t)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())

	upstream := NewUpstream([]string{deadAddr, upstreamAddr}, 100*time.Millisecond)

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)
	resp, err := upstream.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Equal(t, int32(1), atomic.LoadInt32(queries))
}

func TestUpstreamCacheExpiry(t *testing.T) {
	upstreamAddr, queries := startFakeUpstream(t)

	now := time.Unix(1700000000, 0)
	upstream := NewUpstream([]string{upstreamAddr}, time.Second)
	upstream.now = func() time.Time { return now }

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)

	_, err := upstream.Resolve(context.Background(), req)
	require.NoError(t, err)
	resp, err := upstream.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Id, resp.Id, "缓存应答的ID应与请求一致")
	assert.Equal(t, int32(1), atomic.LoadInt32(queries))

	// 超过记录TTL(300秒)后重新查询
	now = now.Add(301 * time.Second)
	_, err = upstream.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(queries))

	// NXDOMAIN不缓存
	mx := new(dns.Msg)
	mx.SetQuestion("example.org.", dns.TypeMX)
	_, err = upstream.Resolve(context.Background(), mx)
	require.NoError(t, err)
	_, err = upstream.Resolve(context.Background(), mx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(queries))
}

func TestUpstreamRejectsEmptyRequest(t *testing.T) {
	_, err := NewUpstream([]string{"127.0.0.1:1"}, time.Second).Resolve(context.Background(), new(dns.Msg))
	assert.Error(t, err)

	req := new(dns.Msg)
	req.SetQuestion("example.org.", dns.TypeA)
	_, err = NewUpstream(nil, time.Second).Resolve(context.Background(), req)
	assert.Error(t, err)
}
