// Copyright (c) 2024–2026 The Lab-Measurement developers. All rights reserved.
// Project site: https://github.com/sife223/Lab-Measurement
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package labmeas talks to GPIB instruments through a Prologix GPIB-USB
// controller or an AR488 clone over its virtual COM port. The sweep, analyzer
// and temperature packages under lib build on its Controller.
package labmeas
