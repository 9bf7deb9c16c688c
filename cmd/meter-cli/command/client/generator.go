package client

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"meterhub/internal/meter"
)

// Generator builds messages shaped like real meter reports.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator seeds a generator; the same seed yields the same messages.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

// RandomSN returns an 8 digit serial number.
func (g *Generator) RandomSN() string {
	return strconv.Itoa(10000000 + g.rng.IntN(90000000))
}

// Message builds report number index for serial number sn.
func (g *Generator) Message(sn string, index int) meter.Message {
	data := fmt.Sprintf("%s(%07d.%d#kWh)\r\n%s(%07d.%d*kWh)\r\n%s(%07d.%d*kWh)\r\n%s(%07d.%d*kWh)\r\n",
		meter.RegisterImportT1, g.rng.IntN(1000), g.rng.IntN(9),
		meter.RegisterImportT2, g.rng.IntN(100), g.rng.IntN(9),
		meter.RegisterImportTotal, g.rng.IntN(1000), g.rng.IntN(9),
		meter.RegisterExportTotal, g.rng.IntN(10), g.rng.IntN(9),
	)
	return meter.Message{
		UTC:     strconv.FormatInt(g.now().Unix(), 10),
		Result:  meter.Result{Enc: "text", Data: data},
		ID:      strconv.Itoa(1000 + index),
		N:       strconv.Itoa(index),
		M:       fmt.Sprintf("L%07d", g.rng.IntN(100)),
		Network: fmt.Sprintf("LN%05d", g.rng.IntN(100)),
		System:  "nms",
		CName:   "C0/ro",
		CDesc:   "1.8.0:1.8.1:1.8.2:2.8.0",
		Model:   "FF0007/ED310",
		SN:      sn,
		FID:     "",
	}
}

// Payload is Message encoded as indented JSON, as gateways send it.
func (g *Generator) Payload(sn string, index int) []byte {
	b, _ := json.MarshalIndent(g.Message(sn, index), "", "  ")
	return b
}
