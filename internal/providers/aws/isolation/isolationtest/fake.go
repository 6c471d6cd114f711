// Package isolationtest provides an in-memory EC2 control plane for tests of
// the isolation components and the orchestrator.
package isolationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// Operation names accepted by FakeEC2.Fail and FakeEC2.Count.
const (
	OpDescribeSecurityGroups = "DescribeSecurityGroups"
	OpCreateSecurityGroup    = "CreateSecurityGroup"
	OpRevokeEgress           = "RevokeSecurityGroupEgress"
	OpRevokeIngress          = "RevokeSecurityGroupIngress"
	OpDescribeInstances      = "DescribeInstances"
	OpModifyInstance         = "ModifyInstanceAttribute"
	OpCreateTags             = "CreateTags"
)

// Group is a fake security group.
type Group struct {
	ID      string
	Name    string
	VpcID   string
	Ingress []ec2types.IpPermission
	Egress  []ec2types.IpPermission
}

// Instance is a fake EC2 instance.
type Instance struct {
	ID     string
	Groups []string
	Tags   map[string]string
}

// FakeEC2 is a stateful, concurrency-safe stand-in for the EC2 API.
// It implements common.EC2Client.
type FakeEC2 struct {
	mu        sync.Mutex
	groups    map[string]*Group
	instances map[string]*Instance
	calls     map[string]int
	failures  map[string]error
	nextID    int

	// RaceOnCreate makes the next CreateSecurityGroup behave as if another
	// invocation created the group first: the group appears (with its
	// default egress rule) and the call fails with InvalidGroup.Duplicate.
	RaceOnCreate bool
}

// New returns an empty FakeEC2.
func New() *FakeEC2 {
	return &FakeEC2{
		groups:    map[string]*Group{},
		instances: map[string]*Instance{},
		calls:     map[string]int{},
		failures:  map[string]error{},
	}
}

// APIError builds the smithy error EC2 returns for code.
func APIError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

// Fail makes every subsequent call to op return err.
func (f *FakeEC2) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Count returns how many times op has been called.
func (f *FakeEC2) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Mutations returns the number of calls that change control-plane state.
func (f *FakeEC2) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[OpCreateSecurityGroup] + f.calls[OpRevokeEgress] + f.calls[OpRevokeIngress] +
		f.calls[OpModifyInstance] + f.calls[OpCreateTags]
}

// AddGroup registers a group and returns its ID.
func (f *FakeEC2) AddGroup(name string, egress ...ec2types.IpPermission) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addGroupLocked(name, "", egress)
}

// AddInstance registers an instance attached to groups.
func (f *FakeEC2) AddInstance(id string, groups ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id] = &Instance{ID: id, Groups: append([]string{}, groups...), Tags: map[string]string{}}
}

// SetTag sets a tag on an instance.
func (f *FakeEC2) SetTag(id, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id].Tags[key] = value
}

// Membership returns the current security groups of an instance.
func (f *FakeEC2) Membership(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.instances[id].Groups...)
}

// Tags returns a copy of an instance's tags.
func (f *FakeEC2) Tags(id string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.instances[id].Tags))
	for k, v := range f.instances[id].Tags {
		out[k] = v
	}
	return out
}

// Group returns a copy of the named group, if present.
func (f *FakeEC2) Group(name string) (Group, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		if g.Name == name {
			return *g, true
		}
	}
	return Group{}, false
}

// GroupCount returns the number of groups named name.
func (f *FakeEC2) GroupCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.groups {
		if g.Name == name {
			n++
		}
	}
	return n
}

func (f *FakeEC2) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	return f.failures[op]
}

func (f *FakeEC2) addGroupLocked(name, vpc string, egress []ec2types.IpPermission) string {
	f.nextID++
	id := fmt.Sprintf("sg-%08d", f.nextID)
	f.groups[id] = &Group{ID: id, Name: name, VpcID: vpc, Egress: append([]ec2types.IpPermission{}, egress...)}
	return id
}

func (f *FakeEC2) findByName(name, vpc string) *Group {
	for _, g := range f.groups {
		if g.Name == name && g.VpcID == vpc {
			return g
		}
	}
	return nil
}

// DefaultEgress is the allow-all egress rule EC2 attaches to new groups.
func DefaultEgress() ec2types.IpPermission {
	return ec2types.IpPermission{
		IpProtocol: aws.String("-1"),
		IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
	}
}

func (f *FakeEC2) DescribeSecurityGroups(_ context.Context, in *ec2svc.DescribeSecurityGroupsInput, _ ...func(*ec2svc.Options)) (*ec2svc.DescribeSecurityGroupsOutput, error) {
	err := f.enter(OpDescribeSecurityGroups)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := &ec2svc.DescribeSecurityGroupsOutput{}
	if len(in.GroupNames) > 0 {
		for _, name := range in.GroupNames {
			g := f.findByName(name, "")
			if g == nil {
				return nil, APIError("InvalidGroup.NotFound")
			}
			out.SecurityGroups = append(out.SecurityGroups, toSDKGroup(g))
		}
		return out, nil
	}

	var name, vpc string
	for _, flt := range in.Filters {
		if len(flt.Values) == 0 {
			continue
		}
		switch aws.ToString(flt.Name) {
		case "group-name":
			name = flt.Values[0]
		case "vpc-id":
			vpc = flt.Values[0]
		}
	}
	if g := f.findByName(name, vpc); g != nil {
		out.SecurityGroups = append(out.SecurityGroups, toSDKGroup(g))
	}
	return out, nil
}

func (f *FakeEC2) CreateSecurityGroup(_ context.Context, in *ec2svc.CreateSecurityGroupInput, _ ...func(*ec2svc.Options)) (*ec2svc.CreateSecurityGroupOutput, error) {
	err := f.enter(OpCreateSecurityGroup)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	name, vpc := aws.ToString(in.GroupName), aws.ToString(in.VpcId)
	if f.RaceOnCreate {
		f.RaceOnCreate = false
		f.addGroupLocked(name, vpc, []ec2types.IpPermission{DefaultEgress()})
		return nil, APIError("InvalidGroup.Duplicate")
	}
	if f.findByName(name, vpc) != nil {
		return nil, APIError("InvalidGroup.Duplicate")
	}
	id := f.addGroupLocked(name, vpc, []ec2types.IpPermission{DefaultEgress()})
	return &ec2svc.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *FakeEC2) RevokeSecurityGroupEgress(_ context.Context, in *ec2svc.RevokeSecurityGroupEgressInput, _ ...func(*ec2svc.Options)) (*ec2svc.RevokeSecurityGroupEgressOutput, error) {
	err := f.enter(OpRevokeEgress)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g, ok := f.groups[aws.ToString(in.GroupId)]
	if !ok {
		return nil, APIError("InvalidGroup.NotFound")
	}
	remaining, err := revoke(g.Egress, in.IpPermissions)
	if err != nil {
		return nil, err
	}
	g.Egress = remaining
	return &ec2svc.RevokeSecurityGroupEgressOutput{Return: aws.Bool(true)}, nil
}

func (f *FakeEC2) RevokeSecurityGroupIngress(_ context.Context, in *ec2svc.RevokeSecurityGroupIngressInput, _ ...func(*ec2svc.Options)) (*ec2svc.RevokeSecurityGroupIngressOutput, error) {
	err := f.enter(OpRevokeIngress)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g, ok := f.groups[aws.ToString(in.GroupId)]
	if !ok {
		return nil, APIError("InvalidGroup.NotFound")
	}
	remaining, err := revoke(g.Ingress, in.IpPermissions)
	if err != nil {
		return nil, err
	}
	g.Ingress = remaining
	return &ec2svc.RevokeSecurityGroupIngressOutput{Return: aws.Bool(true)}, nil
}

func (f *FakeEC2) DescribeInstances(_ context.Context, in *ec2svc.DescribeInstancesInput, _ ...func(*ec2svc.Options)) (*ec2svc.DescribeInstancesOutput, error) {
	err := f.enter(OpDescribeInstances)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	res := ec2types.Reservation{}
	for _, id := range in.InstanceIds {
		inst, ok := f.instances[id]
		if !ok {
			return nil, APIError("InvalidInstanceID.NotFound")
		}
		sdk := ec2types.Instance{
			InstanceId: aws.String(inst.ID),
			State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		}
		for _, gid := range inst.Groups {
			ident := ec2types.GroupIdentifier{GroupId: aws.String(gid)}
			if g, ok := f.groups[gid]; ok {
				ident.GroupName = aws.String(g.Name)
			}
			sdk.SecurityGroups = append(sdk.SecurityGroups, ident)
		}
		for k, v := range inst.Tags {
			sdk.Tags = append(sdk.Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		res.Instances = append(res.Instances, sdk)
	}
	return &ec2svc.DescribeInstancesOutput{Reservations: []ec2types.Reservation{res}}, nil
}

func (f *FakeEC2) ModifyInstanceAttribute(_ context.Context, in *ec2svc.ModifyInstanceAttributeInput, _ ...func(*ec2svc.Options)) (*ec2svc.ModifyInstanceAttributeOutput, error) {
	err := f.enter(OpModifyInstance)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	inst, ok := f.instances[aws.ToString(in.InstanceId)]
	if !ok {
		return nil, APIError("InvalidInstanceID.NotFound")
	}
	for _, gid := range in.Groups {
		if _, ok := f.groups[gid]; !ok {
			return nil, APIError("InvalidGroup.NotFound")
		}
	}
	inst.Groups = append([]string{}, in.Groups...)
	return &ec2svc.ModifyInstanceAttributeOutput{}, nil
}

func (f *FakeEC2) CreateTags(_ context.Context, in *ec2svc.CreateTagsInput, _ ...func(*ec2svc.Options)) (*ec2svc.CreateTagsOutput, error) {
	err := f.enter(OpCreateTags)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, id := range in.Resources {
		inst, ok := f.instances[id]
		if !ok {
			return nil, APIError("InvalidInstanceID.NotFound")
		}
		for _, t := range in.Tags {
			inst.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return &ec2svc.CreateTagsOutput{}, nil
}

func toSDKGroup(g *Group) ec2types.SecurityGroup {
	sg := ec2types.SecurityGroup{
		GroupId:             aws.String(g.ID),
		GroupName:           aws.String(g.Name),
		IpPermissions:       append([]ec2types.IpPermission{}, g.Ingress...),
		IpPermissionsEgress: append([]ec2types.IpPermission{}, g.Egress...),
	}
	if g.VpcID != "" {
		sg.VpcId = aws.String(g.VpcID)
	}
	return sg
}

// revoke removes each requested rule from have, matching on protocol and
// first IPv4 range. A requested rule that is absent fails the whole call.
func revoke(have, req []ec2types.IpPermission) ([]ec2types.IpPermission, error) {
	out := append([]ec2types.IpPermission{}, have...)
	for _, r := range req {
		idx := -1
		for i, h := range out {
			if permKey(h) == permKey(r) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, APIError("InvalidPermission.NotFound")
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	return out, nil
}

func permKey(p ec2types.IpPermission) string {
	cidr := ""
	if len(p.IpRanges) > 0 {
		cidr = aws.ToString(p.IpRanges[0].CidrIp)
	}
	return aws.ToString(p.IpProtocol) + "|" + cidr
}
