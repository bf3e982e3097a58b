package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
)

// Instance tags the provisioning layer puts on every cluster instance.
const (
	TagCluster  = "zephyrrotor:cluster"
	TagMemberID = "zephyrrotor:member-id"
)

// ErrAmbiguousMember means two live instances claim the same member id.
var ErrAmbiguousMember = errors.New("discovery: member id claimed by more than one instance")

// EC2 resolves members to the private IPs of tagged, live EC2 instances.
type EC2 struct {
	api     ec2.DescribeInstancesAPIClient
	cluster string
}

// NewEC2 loads the default AWS credential chain. region may be empty to use the
// environment's region.
func NewEC2(ctx context.Context, region, cluster string) (*EC2, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EC2{api: ec2.NewFromConfig(cfg), cluster: cluster}, nil
}

func (e *EC2) Resolve(ctx context.Context, slots []ring.Slot) (map[ring.MemberID]string, error) {
	want := make(map[ring.MemberID]bool, len(slots))
	for _, s := range slots {
		want[s.ID] = true
	}

	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + TagCluster), Values: []string{e.cluster}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	}
	out := make(map[ring.MemberID]string, len(slots))
	pages := ec2.NewDescribeInstancesPaginator(e.api, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				id, ok := memberIDTag(inst.Tags)
				if !ok || !want[id] {
					continue
				}
				addr := aws.ToString(inst.PrivateIpAddress)
				if addr == "" {
					continue
				}
				if prev, dup := out[id]; dup && prev != addr {
					return nil, fmt.Errorf("%w: %d at %s and %s", ErrAmbiguousMember, id, prev, addr)
				}
				out[id] = addr
			}
		}
	}
	return out, nil
}

func memberIDTag(tags []types.Tag) (ring.MemberID, bool) {
	for _, t := range tags {
		if aws.ToString(t.Key) != TagMemberID {
			continue
		}
		n, err := strconv.ParseUint(aws.ToString(t.Value), 10, 64)
		if err != nil || n == 0 {
			return 0, false
		}
		return ring.MemberID(n), true
	}
	return 0, false
}
