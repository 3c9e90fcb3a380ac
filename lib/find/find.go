package find

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB vendor IDs used by the filters below.
const (
	ArduinoVID = "2341"
	PiPicoVID  = "2e8a"
	FTDIVID    = "0403" // Prologix GPIB-USB uses an FTDI bridge
)

type FilterFn func(*Usbtty) bool

func ArduinoFilter(ut *Usbtty) bool {
	return strings.EqualFold(ut.VID, ArduinoVID) || strings.Contains(ut.Prod, "Arduino")
}

func PiPicoFilter(ut *Usbtty) bool {
	return strings.EqualFold(ut.VID, PiPicoVID) && strings.Contains(ut.Prod, "Pico")
}

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

func VIDFilter(vid string) FilterFn {
	return func(ut *Usbtty) bool { return strings.EqualFold(ut.VID, vid) }
}

// lister is swapped out in tests.
var lister = enumerator.GetDetailedPortsList

// Find searches for a usb serial device. If filter is not nil,
// it is used to narrow choices down. The first device for which
// it returns true (if any) is chosen.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	if filter != nil {
		var match Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				match = Usbttys{ttys[i]}
				break
			}
		}
		ttys = match
	}

	if len(ttys) == 0 {
		return "", fmt.Errorf("no matching ttys found")
	}
	if len(ttys) == 1 {
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev      string
	VID, PID string
	Prod     string
	Serial   string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s vid/pid %s/%s prod %s serial %s", u.Dev, u.VID, u.PID, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys lists serial ports backed by a USB device. Ports without USB
// details, such as on-board UARTs, are skipped.
func AllUsbTtys() (Usbttys, error) {
	ports, err := lister()
	if err != nil {
		return nil, err
	}
	var devs Usbttys
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		devs = append(devs, Usbtty{
			Dev:    p.Name,
			VID:    strings.ToLower(p.VID),
			PID:    strings.ToLower(p.PID),
			Prod:   p.Product,
			Serial: p.SerialNumber,
		})
	}
	return devs, nil
}
