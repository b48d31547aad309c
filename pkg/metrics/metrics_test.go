package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, defaultNamespace)
				So(manager.subsystem, ShouldEqual, defaultSubsystem)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test", "version": "1.0"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.customLabels["env"], ShouldEqual, "test")
			})

			Convey("And metrics should be gathered under the custom namespace", func() {
				manager.ticks.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_ticks_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsOptionsValidation(t *testing.T) {
	Convey("Given empty option values", t, func() {
		registry := prometheus.NewRegistry()
		manager := NewManager(
			WithNamespace(""),
			WithSubsystem(""),
			WithHistogramBuckets(nil),
			WithCustomLabels(nil),
			WithPrometheusRegistry(registry),
		)

		Convey("Then defaults should be kept", func() {
			So(manager.namespace, ShouldEqual, defaultNamespace)
			So(manager.subsystem, ShouldEqual, defaultSubsystem)
			So(manager.histogramBuckets, ShouldResemble, tickBuckets)
			So(manager.customLabels, ShouldNotBeNil)
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording scheduler metrics", func() {
			before := testutil.ToFloat64(globalManager.ticks)
			RecordTick(3 * time.Millisecond)
			RecordTick(4 * time.Millisecond)
			skipped := testutil.ToFloat64(globalManager.ticksSkipped)
			RecordTickSkipped()
			UpdateObservedTPS(39)
			UpdateConfiguredTPS(40)

			Convey("Then the counters and gauges should move", func() {
				So(testutil.ToFloat64(globalManager.ticks), ShouldEqual, before+2)
				So(testutil.ToFloat64(globalManager.ticksSkipped), ShouldEqual, skipped+1)
				So(testutil.ToFloat64(globalManager.observedTPS), ShouldEqual, 39)
				So(testutil.ToFloat64(globalManager.configuredTPS), ShouldEqual, 40)
			})
		})

		Convey("When recording solver metrics", func() {
			RecordSolveOutcome("left_hand", "solved")
			RecordSolveOutcome("left_hand", "solved")
			UpdateMotorPWM("left_hand", "thumb", 180)

			Convey("Then they should be labelled per group", func() {
				So(testutil.ToFloat64(globalManager.solveOutcomes.WithLabelValues("left_hand", "solved")), ShouldBeGreaterThanOrEqualTo, 2)
				So(testutil.ToFloat64(globalManager.motorPWM.WithLabelValues("left_hand", "thumb")), ShouldEqual, 180)
			})

			Convey("And removing a motor should drop its series", func() {
				RemoveMotorPWM("left_hand", "thumb")
				So(testutil.CollectAndCount(globalManager.motorPWM), ShouldEqual, 0)
			})
		})

		Convey("When toggling device transmission", func() {
			UpdateDeviceTransmitEnabled(false)
			off := testutil.ToFloat64(globalManager.deviceTransmitOff)
			UpdateDeviceTransmitEnabled(true)
			on := testutil.ToFloat64(globalManager.deviceTransmitOff)

			Convey("Then the gauge should mirror the toggle", func() {
				So(off, ShouldEqual, 1)
				So(on, ShouldEqual, 0)
			})
		})

		Convey("When recording ingestion, device and HTTP metrics", func() {
			So(func() {
				RecordSampleRecorded()
				RecordSampleUnrouted()
				UpdateQueueSize(12)
				UpdateQueueCapacity(1024)
				RecordQueueEnqueueError("full")
				RecordDeviceFrame("esp-1")
				RecordDeviceError("esp-1")
				RecordSolveError("left_hand")
				UpdateActiveGroups(2)
				RecordConfigReload("ok")
				RecordTickOverrun()
				RecordHTTPRequest("/contacts", "POST", "202")
				RecordHTTPRequestDuration("/contacts", "POST", "202", 1.5)
			}, ShouldNotPanic)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given metrics concurrency", t, func() {
		Convey("When recording metrics concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 100; j++ {
						RecordTick(time.Millisecond)
						RecordSampleRecorded()
						UpdateQueueSize(j)
						RecordHTTPRequest("/test", "GET", "200")
					}
				}()
			}
			wg.Wait()

			Convey("Then it should handle concurrent access without panics", func() {
				So(GetRegistry(), ShouldNotBeNil)
			})
		})
	})
}
