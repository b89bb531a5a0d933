package client

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/config"
	"github.com/flowlab/flowcal/pkg/daemon"
)

func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func (c *Client) GetVersion() (string, error) {
	v, err := getJSON[string](c, "/version", "version")
	if err != nil {
		return "", err
	}
	return *v, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}

func (c *Client) GetLink() (*daemon.LinkStatus, error) {
	return getJSON[daemon.LinkStatus](c, "/link", "link status")
}

func (c *Client) Connect(port string) (string, error) {
	payload, err := json.Marshal(daemon.ConnectRequest{Port: port})
	if err != nil {
		return "", err
	}
	return c.Post("/link", string(payload))
}

func (c *Client) Disconnect() (string, error) {
	return c.Delete("/link")
}

func (c *Client) SendLine(text string) (string, error) {
	return c.Post("/send", text)
}

func (c *Client) GetConsole() (*daemon.ConsoleStatus, error) {
	return getJSON[daemon.ConsoleStatus](c, "/console", "console")
}

func (c *Client) ClearConsole() (string, error) {
	return c.Delete("/console")
}

// Measure runs one measurement session. With velocity set the daemon converts
// reference from velocity to flow units first.
func (c *Client) Measure(reference float64, velocity bool) (*calibration.SessionResult, error) {
	payload, err := json.Marshal(daemon.MeasureRequest{Reference: &reference})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to marshal reference")
	}
	path := "/measure"
	if velocity {
		path += "?unit=velocity"
	}
	ret, err := c.Post(path, string(payload))
	if err != nil {
		return nil, err
	}
	var res calibration.SessionResult
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal measurement result")
	}
	return &res, nil
}

func (c *Client) GetExperiments() (*daemon.ExperimentList, error) {
	return getJSON[daemon.ExperimentList](c, "/experiments", "experiments")
}

func (c *Client) ClearExperiments() (string, error) {
	return c.Delete("/experiments")
}

func (c *Client) RemoveExperiment(index int) (string, error) {
	return c.Delete(fmt.Sprintf("/experiments/%d", index))
}

func (c *Client) GetSelection() ([]int, error) {
	v, err := getJSON[[]int](c, "/selection", "selection")
	if err != nil {
		return nil, err
	}
	return *v, nil
}

func (c *Client) SetSelection(indices []int) ([]int, error) {
	if indices == nil {
		indices = []int{}
	}
	payload, err := json.Marshal(indices)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/selection", string(payload))
	if err != nil {
		return nil, err
	}
	var sel []int
	if err := json.Unmarshal([]byte(ret), &sel); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal selection")
	}
	return sel, nil
}

func (c *Client) GetOffsets() ([]float64, error) {
	v, err := getJSON[[]float64](c, "/offsets", "offsets")
	if err != nil {
		return nil, err
	}
	return *v, nil
}

func (c *Client) GetRegression() (*calibration.Regression, error) {
	return getJSON[calibration.Regression](c, "/regression", "regression")
}

func (c *Client) GetDeviation(index int) (*calibration.DeviationModel, error) {
	return getJSON[calibration.DeviationModel](c, fmt.Sprintf("/deviation/%d", index), "deviation model")
}

func (c *Client) GetSummary() (*calibration.Summary, error) {
	return getJSON[calibration.Summary](c, "/summary", "summary")
}
