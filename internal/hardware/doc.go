// Package hardware abstracts the node's physical I/O: LED output lines,
// the temperature and light sensors, and the device reset.
//
// Real implementations use the Linux GPIO character device
// (github.com/warthog618/go-gpiocdev), sysfs sensor files and the reboot
// syscall. Simulated implementations let the node run on a workstation
// and back the unit tests.
package hardware
