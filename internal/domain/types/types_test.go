package types_test

import (
	"encoding/json"
	"testing"

	types "github.com/okian/patpat/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGroupViewJSON(t *testing.T) {
	Convey("Given a group view", t, func() {
		v := types.GroupView{
			ID:       1,
			Key:      "hand",
			Name:     "Left hand",
			Solver:   "MLat",
			Strength: 80,
			Motors:   []types.MotorView{{Name: "thumb", DeviceID: 0, Channel: 2, PWM: 120}},
			Points:   []types.PointView{{Name: "palm", ReceiverID: "contact_palm", Value: 0.4, AgeMS: -1}},
		}

		Convey("When encoded", func() {
			raw, err := json.Marshal(v)
			So(err, ShouldBeNil)
			var m map[string]any
			So(json.Unmarshal(raw, &m), ShouldBeNil)

			Convey("Then it should use the API field names", func() {
				So(m["contact_only"], ShouldEqual, false)
				So(m, ShouldNotContainKey, "last_outcome")
				points := m["avatar_points"].([]any)
				So(points[0].(map[string]any)["receiver_id"], ShouldEqual, "contact_palm")
				motors := m["motors"].([]any)
				So(motors[0].(map[string]any)["device_id"], ShouldEqual, 0)
			})
		})
	})
}
