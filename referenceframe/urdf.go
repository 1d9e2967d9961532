package referenceframe

import (
	"encoding/xml"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/spatialmath"
)

// World is the reserved name of the URDF world link; it is dropped during conversion.
const World = "world"

// URDFConfig represents all supported fields in a Universal Robot Description Format (URDF) file.
type URDFConfig struct {
	XMLName xml.Name    `xml:"robot"`
	Name    string      `xml:"name,attr"`
	Links   []URDFLink  `xml:"link"`
	Joints  []URDFJoint `xml:"joint"`
}

// URDFLink is a struct which details the XML used in a URDF link element.
type URDFLink struct {
	XMLName  xml.Name      `xml:"link"`
	Name     string        `xml:"name,attr"`
	Inertial *URDFInertial `xml:"inertial,omitempty"`
}

// URDFInertial is the inertial element of a link. The inertia tensor is expressed in the frame
// given by Origin.
type URDFInertial struct {
	Origin *URDFPose `xml:"origin,omitempty"`
	Mass   struct {
		Value float64 `xml:"value,attr"`
	} `xml:"mass"`
	Inertia struct {
		XX float64 `xml:"ixx,attr"`
		XY float64 `xml:"ixy,attr"`
		XZ float64 `xml:"ixz,attr"`
		YY float64 `xml:"iyy,attr"`
		YZ float64 `xml:"iyz,attr"`
		ZZ float64 `xml:"izz,attr"`
	} `xml:"inertia"`
}

// URDFPose is an origin element: "x y z" in meters and "r p y" in radians.
type URDFPose struct {
	XYZ string `xml:"xyz,attr"`
	RPY string `xml:"rpy,attr"`
}

// URDFAxis is an axis element.
type URDFAxis struct {
	XYZ string `xml:"xyz,attr"`
}

// URDFLimit is a limit element; revolute limits are radians, prismatic limits meters.
type URDFLimit struct {
	XMLName xml.Name `xml:"limit"`
	Lower   float64  `xml:"lower,attr"`
	Upper   float64  `xml:"upper,attr"`
}

// URDFFrame names the link on one side of a joint.
type URDFFrame struct {
	Link string `xml:"link,attr"`
}

// URDFJoint is a struct which details the XML used in a URDF joint element.
type URDFJoint struct {
	XMLName xml.Name   `xml:"joint"`
	Name    string     `xml:"name,attr"`
	Type    string     `xml:"type,attr"`
	Parent  URDFFrame  `xml:"parent"`
	Child   URDFFrame  `xml:"child"`
	Origin  *URDFPose  `xml:"origin,omitempty"`
	Axis    *URDFAxis  `xml:"axis,omitempty"`
	Limit   *URDFLimit `xml:"limit,omitempty"`
}

// ParseURDFFile will read a given file and parse the contained URDF XML data into an equivalent ModelConfig struct.
func ParseURDFFile(filename, modelName string, floatingBase bool) (*ModelConfig, error) {
	//nolint:gosec
	xmlData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to read URDF file")
	}
	return ConvertURDFToConfig(xmlData, modelName, floatingBase)
}

// ConvertURDFToConfig will transfer the given URDF XML data into an equivalent ModelConfig. Link inertials
// are re-expressed in the link frame, which is where the URDF inertial origin places them.
func ConvertURDFToConfig(xmlData []byte, modelName string, floatingBase bool) (*ModelConfig, error) {
	// empty data probably means that the read URDF has no actionable information
	if len(xmlData) == 0 {
		return nil, ErrNoModelInformation
	}

	urdf := &URDFConfig{}
	if err := xml.Unmarshal(xmlData, urdf); err != nil {
		return nil, errors.Wrap(err, "Failed to convert URDF data to equivalent URDFConfig struct")
	}
	if modelName == "" {
		modelName = urdf.Name
	}
	mc := &ModelConfig{Name: modelName, FloatingBase: floatingBase}

	for _, linkElem := range urdf.Links {
		// Skip any world links
		if linkElem.Name == World {
			continue
		}
		link, err := linkElem.toConfig()
		if err != nil {
			return nil, errors.Wrapf(err, "link %q", linkElem.Name)
		}
		mc.Links = append(mc.Links, link)
	}

	for _, jointElem := range urdf.Joints {
		if jointElem.Parent.Link == World {
			// A joint to the world only anchors the root.
			continue
		}
		joint := JointConfig{
			ID:     jointElem.Name,
			Type:   jointElem.Type,
			Parent: jointElem.Parent.Link,
			Child:  jointElem.Child.Link,
			Axis:   r3.Vector{X: 1},
		}
		if jointElem.Origin != nil {
			xyz, err := parsePoseVector(jointElem.Origin.XYZ)
			if err != nil {
				return nil, errors.Wrapf(err, "joint %q origin", jointElem.Name)
			}
			rpy, err := parsePoseVector(jointElem.Origin.RPY)
			if err != nil {
				return nil, errors.Wrapf(err, "joint %q origin", jointElem.Name)
			}
			joint.Translation, joint.RPY = xyz, rpy
		}
		if jointElem.Axis != nil {
			axis, err := parsePoseVector(jointElem.Axis.XYZ)
			if err != nil {
				return nil, errors.Wrapf(err, "joint %q axis", jointElem.Name)
			}
			joint.Axis = axis
		}

		switch jointElem.Type {
		case ContinuousJoint:
			// Currently, we treat a continuous joint as a special case of a revolute joint
			joint.Type = RevoluteJoint
			joint.Min, joint.Max = math.Inf(-1), math.Inf(1)
		case RevoluteJoint, PrismaticJoint:
			if jointElem.Limit != nil {
				joint.Min, joint.Max = jointElem.Limit.Lower, jointElem.Limit.Upper
			}
		case FixedJoint:
		default:
			return nil, NewUnsupportedJointTypeError(jointElem.Type)
		}
		mc.Joints = append(mc.Joints, joint)
	}

	if err := mc.Validate(); err != nil {
		return nil, err
	}
	return mc, nil
}

func (l *URDFLink) toConfig() (LinkConfig, error) {
	link := LinkConfig{ID: l.Name}
	if l.Inertial == nil {
		return link, nil
	}
	link.Mass = l.Inertial.Mass.Value
	in := l.Inertial.Inertia
	tensor := mat.NewDense(3, 3, []float64{
		in.XX, in.XY, in.XZ,
		in.XY, in.YY, in.YZ,
		in.XZ, in.YZ, in.ZZ,
	})
	if l.Inertial.Origin != nil {
		xyz, err := parsePoseVector(l.Inertial.Origin.XYZ)
		if err != nil {
			return link, err
		}
		rpy, err := parsePoseVector(l.Inertial.Origin.RPY)
		if err != nil {
			return link, err
		}
		link.COM = xyz
		rot := spatialmath.RotationFromRPY(rpy.X, rpy.Y, rpy.Z)
		var tmp mat.Dense
		tmp.Mul(rot, tensor)
		tensor.Mul(&tmp, rot.T())
	}
	link.Inertia = &InertiaConfig{
		XX: tensor.At(0, 0), XY: tensor.At(0, 1), XZ: tensor.At(0, 2),
		YY: tensor.At(1, 1), YZ: tensor.At(1, 2), ZZ: tensor.At(2, 2),
	}
	return link, nil
}

// parsePoseVector reads a space delimited "a b c" attribute. An empty attribute is the zero vector.
func parsePoseVector(s string) (r3.Vector, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return r3.Vector{}, nil
	}
	if len(fields) != 3 {
		return r3.Vector{}, errors.Errorf("expected 3 values, got %q", s)
	}
	var out [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vector{}, errors.Wrapf(err, "parsing %q", s)
		}
		out[i] = v
	}
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}, nil
}
