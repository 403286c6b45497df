// Package attribute supplies host and device descriptors, and the per-device
// configuration subtrees drivers read their properties from.
//
// The canonical producer of this data is the framework's hardware
// configuration compiler; this package reads the same information from a
// YAML document so the manager can run without it:
//
//	hosts:
//	  - id: 1
//	    name: sample_host
//	    devices:
//	      - local_id: 1
//	        service: sample_service
//	        module: sample_driver
//	        policy: public
//	        preload: enable
//	        match_attr: sample_config
//	properties:
//	  sample:
//	    match_attr: sample_config
//	    baud_rate: 115200
//
// Every mapping under properties becomes a Node; a mapping carrying a
// match_attr key can be found with Tree.GetNodeByMatchAttr.
package attribute
