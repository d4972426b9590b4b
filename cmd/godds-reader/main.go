// Command godds-reader runs a single reliable stateful RTPS reader for one
// topic: it joins a domain via etcd-backed writer discovery, serves its
// status over gRPC, and exports Prometheus metrics.
//
// Grounded on dwarri-gazette's examples/word-count/wordcountctl/main.go:
// a go-flags parser over a Config struct embedding AddressConfig/LogConfig
// groups, with mbp.Must/MustParseArgs for fatal setup errors.
package main

import (
	"context"
	"crypto/rand"
	"net"
	"net/http"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/atostek/godds/discovery"
	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/internal/mbp"
	"github.com/atostek/godds/internal/task"
	"github.com/atostek/godds/locator"
	"github.com/atostek/godds/metrics"
	"github.com/atostek/godds/qos"
	"github.com/atostek/godds/rtpsreader"
	"github.com/atostek/godds/statusevents"
	"github.com/atostek/godds/statusrpc"
	"github.com/atostek/godds/topiccache"
	"github.com/atostek/godds/transport"
	"github.com/atostek/godds/writerproxy"
)

var config = new(struct {
	Etcd    mbp.AddressConfig `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`
	Status  mbp.AddressConfig `group:"Status" namespace:"status" env-namespace:"STATUS"`
	Metrics mbp.AddressConfig `group:"Metrics" namespace:"metrics" env-namespace:"METRICS"`
	Log     mbp.LogConfig     `group:"Logging" namespace:"log" env-namespace:"LOG"`

	Topic       string `long:"topic" required:"true" description:"Topic name to subscribe to"`
	ListenPort  uint32 `long:"listen-port" default:"7411" description:"UDP port this reader listens on"`
	WritersPath string `long:"writers-path" default:"/godds/writers/" description:"Etcd key prefix under which writer adverts are published"`
})

type cmdRun struct{}

func (cmd *cmdRun) Execute([]string) error {
	config.Log.Configure()

	var ctx = context.Background()
	var etcdClient, err = clientv3.New(clientv3.Config{Endpoints: []string{config.Etcd.Address}})
	mbp.Must(err, "failed to build etcd client")

	var topicQos = qos.Default()
	topicQos.Reliability = qos.Reliable
	var tc = topiccache.New(config.Topic, topicQos)

	var listenLoc = locator.Locator{Kind: locator.KindUDPv4, Port: config.ListenPort}
	var udpConn, lerr = transport.Listen(listenLoc)
	mbp.Must(lerr, "failed to open UDP listener")

	var statusSender = statusevents.NewSender(64)
	var reader = rtpsreader.New(rtpsreader.Ingredients{
		Guid:         newLocalReaderGuid(),
		TopicName:    config.Topic,
		TopicCache:   tc,
		Qos:          topicQos,
		StatusSender: statusSender,
		Sender:       udpConn,
	})

	var feed = discovery.NewWriterFeed(etcdClient, config.WritersPath, config.Topic)
	feed.Observe(func(ev discovery.Event) {
		var unicast, multicast = ev.Advert.Locators()
		switch ev.Kind {
		case discovery.WriterAdvertised:
			var wp = writerproxy.New(ev.Guid, unicast, multicast, ev.Advert.Policies())
			if err := reader.UpdateWriterProxy(wp); err != nil {
				log.WithError(err).WithField("writer", ev.Guid).Warn("rejected incompatible writer")
			}
		case discovery.WriterWithdrawn:
			reader.RemoveWriterProxy(ev.Guid)
		}
	})

	var statusServer = statusrpc.NewServer()
	statusServer.Register(reader)
	var grpcServer = statusrpc.NewGRPCServer(statusServer)

	var metricsCollector = metrics.NewReaderCollector()
	metricsCollector.Register(func() metrics.ReaderSnapshot {
		var topic, writers, notify, buffers, cacheLen = reader.Snapshot()
		return metrics.ReaderSnapshot{TopicName: topic, MatchedWriters: writers, NotifyCount: notify, AssemblyBuffers: buffers, CacheLen: cacheLen}
	})
	var registry = prometheus.NewRegistry()
	registry.MustRegister(metricsCollector)

	var tasks = task.NewGroup(ctx)
	tasks.Queue("transport.read", func() error {
		return udpConn.ReadLoop(tasks.Context(), func(src *net.UDPAddr, b []byte) {
			// Decoding raw bytes into a wire.Message is the transport/CDR
			// black box per spec.md §1; wiring a decoder in here is left to
			// whatever concrete wire codec a deployment selects.
			log.WithField("src", src).WithField("bytes", len(b)).Debug("received datagram")
		})
	})
	tasks.Queue("discovery.feed", func() error { return feed.Run(tasks.Context()) })
	tasks.Queue("status.serve", func() error { return serveGRPC(tasks.Context(), config.Status.Address, grpcServer) })
	tasks.Queue("metrics.serve", func() error { return serveMetrics(tasks.Context(), config.Metrics.Address, registry) })

	return tasks.Wait()
}

func newLocalReaderGuid() guid.GUID {
	var g guid.GUID
	rand.Read(g.Prefix[:])
	rand.Read(g.EntityId.EntityKey[:])
	g.EntityId.EntityKind = guid.EntityKindUserReaderWithKey
	return g
}

func serveGRPC(ctx context.Context, address string, srv interface{ Serve(net.Listener) error }) error {
	var lis, err = net.Listen("tcp", address)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		lis.Close()
	}()
	return srv.Serve(lis)
}

func serveMetrics(ctx context.Context, address string, registry *prometheus.Registry) error {
	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	var server = &http.Server{Addr: address, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	return server.ListenAndServe()
}

func main() {
	var parser = flags.NewParser(config, flags.Default)
	_, err := parser.AddCommand("run", "Run the reader", "Join a domain and serve status/metrics for one topic", &cmdRun{})
	mbp.Must(err, "failed to add run command")
	mbp.MustParseArgs(parser)
}
