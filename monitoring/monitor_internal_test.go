package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/sim"
)

type sampleComponent struct {
	*sim.ComponentBase

	ticks int
	stats bridge.Stats
}

func (c *sampleComponent) TickLater() {
	c.ticks++
}

func (c *sampleComponent) Stats() bridge.Stats {
	return c.stats
}

func newSampleComponent(name string) *sampleComponent {
	return &sampleComponent{
		ComponentBase: sim.NewComponentBase(name),
	}
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		server *httptest.Server
	)

	BeforeEach(func() {
		m = NewMonitor()
		m.RegisterEngine(sim.NewSerialEngine())
		server = httptest.NewServer(m.router())
	})

	AfterEach(func() {
		server.Close()
	})

	get := func(path string) (int, string) {
		resp, err := http.Get(server.URL + path)
		Expect(err).To(Succeed())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).To(Succeed())

		return resp.StatusCode, string(body)
	}

	It("should report the current time", func() {
		code, body := get("/api/now")

		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"now": 0}`))
	})

	It("should list registered components", func() {
		m.RegisterComponent(newSampleComponent("Bridge"))
		m.RegisterComponent(newSampleComponent("GPIO"))

		code, body := get("/api/list_components")

		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`["Bridge","GPIO"]`))
	})

	It("should answer 404 for an unknown component", func() {
		code, _ := get("/api/component/NoSuchThing")

		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("should tick a ticking component", func() {
		c := newSampleComponent("Bridge")
		m.RegisterComponent(c)

		code, _ := get("/api/tick/Bridge")

		Expect(code).To(Equal(http.StatusOK))
		Expect(c.ticks).To(Equal(1))
	})

	It("should report component stats", func() {
		c := newSampleComponent("Bridge")
		c.stats = bridge.Stats{Requests: 42, Reads: 20, Writes: 22}
		m.RegisterComponent(c)

		code, body := get("/api/stats/Bridge")
		Expect(code).To(Equal(http.StatusOK))

		var stats bridge.Stats
		Expect(json.Unmarshal([]byte(body), &stats)).To(Succeed())
		Expect(stats).To(Equal(c.stats))
	})

	It("should report resource usage", func() {
		code, body := get("/api/resource")

		Expect(code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal([]byte(body), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})
})
