// Package all registers every built-in driver family with the factory.
// Import it for its side effects wherever descriptors are constructed by
// driver tag: the composition root, and tests that load real configs.
package all

import (
	_ "github.com/nestwatch/sentryd/internal/driver/bulb"
	_ "github.com/nestwatch/sentryd/internal/driver/camera"
	_ "github.com/nestwatch/sentryd/internal/driver/doorbell"
	_ "github.com/nestwatch/sentryd/internal/driver/plug"
	_ "github.com/nestwatch/sentryd/internal/driver/robot"
	_ "github.com/nestwatch/sentryd/internal/driver/sensorenv"
	_ "github.com/nestwatch/sentryd/internal/driver/smoke"
)
