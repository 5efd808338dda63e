package aggregator

import (
	"github.com/NotCoffee418/ekm_meter_reader/pkg/meterdb"
	"github.com/sirupsen/logrus"
)

// Aggregator rolls raw records up into per day rows and prunes raw data
// that has been rolled up and is past retention.
type Aggregator struct {
	db  *meterdb.MeterDB
	log logrus.FieldLogger
	// RetentionDays of raw records to keep. 0 keeps everything.
	retentionDays int
	// Day start of the last completed run, so a run happens once a day.
	lastRunDay int64
}
