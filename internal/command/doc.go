// Package command is the semantic command dispatcher: it turns a
// validated intent (set power, set brightness, ...) into wire Control
// frames, picks which bridges relay it, throttles repeat commands to
// the same device via meshmodel's pending latch, and correlates
// the resulting Ack.
//
// Bridge selection uses an EMA-ranked rotation (see rank.go) rather
// than always hitting the same bridge, so a single slow or flapping
// bridge doesn't become a silent bottleneck for every command.
package command
