package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/config"
	"github.com/flowlab/flowcal/pkg/events"
	"github.com/flowlab/flowcal/pkg/link"
	"github.com/flowlab/flowcal/pkg/session"
	"github.com/flowlab/flowcal/pkg/stats"
	"github.com/flowlab/flowcal/pkg/version"
)

// regressionLinePoints is how many points of the fitted line /regression
// returns.
const regressionLinePoints = 100

// listPorts enumerates serial ports. Replaced in tests.
var listPorts = link.ListPorts

// LinkStatus is the body of GET /link.
type LinkStatus struct {
	Connected      bool     `json:"connected"`
	Address        string   `json:"address,omitempty"`
	BaudRate       int      `json:"baudRate"`
	SessionRunning bool     `json:"sessionRunning"`
	Ports          []string `json:"ports"`
}

// ConnectRequest is the body of POST /link.
type ConnectRequest struct {
	Port string `json:"port"`
}

// MeasureRequest is the body of POST /measure.
type MeasureRequest struct {
	Reference *float64 `json:"reference"`
}

// ConsoleStatus is the body of GET /console.
type ConsoleStatus struct {
	Lines []ConsoleLine `json:"lines"`
	// Average is the mean of every numeric line received, nil before the
	// first one.
	Average *float64 `json:"average,omitempty"`
	Count   int      `json:"count"`
}

// ExperimentList is the body of GET /experiments.
type ExperimentList struct {
	Experiments []calibration.Experiment `json:"experiments"`
	Selection   []int                    `json:"selection"`
	Offsets     []float64                `json:"offsets"`
	Policy      string                   `json:"offsetPolicy"`
}

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getLink(c *gin.Context) {
	ports, err := listPorts()
	if err != nil {
		logrus.WithError(err).Warn("failed to enumerate serial ports")
	}
	if ports == nil {
		ports = []string{}
	}

	// conn is replaced under linkMu by openLink. Reading it here must not
	// wait for a running session.
	st := LinkStatus{
		BaudRate:       conf.BaudRate(),
		SessionRunning: sessionRunning.Load(),
		Ports:          ports,
	}
	if linkMu.TryLock() {
		st.Connected = conn.IsConnected()
		st.Address = conn.Address()
		linkMu.Unlock()
	} else {
		// held by a session or a poll, so the link is open
		st.Connected = true
		st.Address = conf.Port()
	}
	c.IndentedJSON(http.StatusOK, st)
}

func connectLink(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	req.Port = strings.TrimSpace(req.Port)
	if req.Port == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("port must not be empty"))
		return
	}
	if sessionRunning.Load() {
		abortWithError(c, http.StatusConflict, ErrSessionRunning)
		return
	}

	if err := openLink(req.Port); err != nil {
		logrus.WithError(err).Errorf("failed to open %s", req.Port)
		abortWithError(c, http.StatusBadGateway, err)
		return
	}

	conf.SetPort(req.Port)
	if err := conf.Save(); err != nil {
		logrus.Warnf("failed to remember port %s: %v", req.Port, err)
	}

	logrus.Infof("connected to %s", req.Port)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("connected to %s at %d baud", req.Port, conf.BaudRate()))
}

func disconnectLink(c *gin.Context) {
	if sessionRunning.Load() {
		abortWithError(c, http.StatusConflict, ErrSessionRunning)
		return
	}
	if err := closeLink(); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	logrus.Info("serial link closed")
	c.IndentedJSON(http.StatusOK, "disconnected")
}

func sendLine(c *gin.Context) {
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("nothing to send"))
		return
	}

	if err := sendRaw(text); err != nil {
		code := sessionErrorStatus(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		abortWithError(c, code, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, ">> "+text)
}

func getConsole(c *gin.Context) {
	st := ConsoleStatus{Lines: console.GetRecords()}
	if avg, n, ok := console.Average(); ok {
		st.Average = &avg
		st.Count = n
	}
	c.IndentedJSON(http.StatusOK, st)
}

func clearConsole(c *gin.Context) {
	console.ClearRecords()
	c.IndentedJSON(http.StatusOK, "console cleared")
}

func streamEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-daemonCtx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

func postMeasure(c *gin.Context) {
	var req MeasureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if req.Reference == nil {
		abortWithError(c, http.StatusBadRequest, session.ErrInvalidInput)
		return
	}

	reference := *req.Reference
	switch unit := c.DefaultQuery("unit", "flow"); unit {
	case "flow":
	case "velocity":
		reference *= conf.VelocityFactor()
	default:
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("unknown unit %q, must be flow or velocity", unit))
		return
	}

	ctx, cancel := contextWithDaemon(c.Request.Context())
	defer cancel()

	res, err := measure(ctx, reference)
	if err != nil {
		abortWithError(c, sessionErrorStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, res)
}

func getExperiments(c *gin.Context) {
	exps, offsets := dataset.Snapshot()
	c.IndentedJSON(http.StatusOK, ExperimentList{
		Experiments: exps,
		Selection:   dataset.Selection(),
		Offsets:     offsets,
		Policy:      string(dataset.Policy()),
	})
}

func clearExperiments(c *gin.Context) {
	dataset.Clear()
	sseHub.Publish(events.ExperimentsChanged, events.ExperimentsChangedEvent{Ts: time.Now().Unix()})
	logrus.Info("dataset cleared")
	c.IndentedJSON(http.StatusOK, "all experiments and offsets cleared")
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("index must be an integer, got %q", c.Param("index")))
		return 0, false
	}
	return i, true
}

func removeExperiment(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	if err := dataset.Remove(i); err != nil {
		abortWithError(c, sessionErrorStatus(err), err)
		return
	}
	sseHub.Publish(events.ExperimentsChanged, events.ExperimentsChangedEvent{Count: dataset.Len(), Ts: time.Now().Unix()})
	logrus.WithField("index", i).Info("experiment removed")
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("removed experiment %d", i))
}

func getSelection(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, dataset.Selection())
}

func setSelection(c *gin.Context) {
	var indices []int
	if err := c.ShouldBindJSON(&indices); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := dataset.Select(indices); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusOK, dataset.Selection())
}

func getOffsets(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, dataset.Offsets())
}

func getRegression(c *gin.Context) {
	exps, offsets := dataset.Snapshot()
	c.IndentedJSON(http.StatusOK, stats.Regress(exps, offsets, regressionLinePoints))
}

func getDeviation(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	e, err := dataset.Experiment(i)
	if err != nil {
		abortWithError(c, sessionErrorStatus(err), err)
		return
	}

	m, ok := stats.Deviation(e.Samples)
	if !ok {
		abortWithError(c, http.StatusUnprocessableEntity, fmt.Errorf("experiment %d has no samples", i))
		return
	}
	m.Index = i
	m.Reference = e.Reference
	c.IndentedJSON(http.StatusOK, m)
}

func getSummary(c *gin.Context) {
	exps, offsets := dataset.Snapshot()
	c.IndentedJSON(http.StatusOK, stats.Summarize(exps, offsets))
}
