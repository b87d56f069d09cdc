package led

import (
	"os"
	"slices"
	"strings"

	"github.com/smazurov/camkit/internal/logging"
)

const deviceTreeModelPath = "/proc/device-tree/model"

type board struct {
	model string
	leds  map[string]string
}

var boards = []board{
	{"NanoPC-T6", map[string]string{"user": "usr_led", "system": "sys_led"}},
	{"Orange Pi", map[string]string{"blue": "blue_led", "green": "green_led"}},
	{"Raspberry Pi", map[string]string{"act": "ACT", "pwr": "PWR"}},
}

// indicatorPreference lists LED types usable as the capture indicator, best
// first.
var indicatorPreference = []string{"system", "act", "green", "user"}

// New creates an LED controller for the detected board. Boards without
// known LEDs get a no-op controller.
func New(logger logging.Logger) Controller {
	if logger == nil {
		logger = logging.GetLogger("led")
	}
	model := detectBoard(deviceTreeModelPath)
	logger.Info("Detecting board for LED control", "board_model", model)

	for _, b := range boards {
		if strings.Contains(model, b.model) {
			logger.Info("Using sysfs LED controller", "board", b.model)
			return newSysfs(b.leds)
		}
	}
	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger)
}

// Indicator returns the LED type of ctrl used to show capture state, or ""
// when the board has none.
func Indicator(ctrl Controller) string {
	available := ctrl.Available()
	for _, t := range indicatorPreference {
		if slices.Contains(available, t) {
			return t
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// detectBoard reads the device tree model to identify the board.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	// Device tree strings are NUL terminated
	return strings.TrimRight(string(data), "\x00")
}
